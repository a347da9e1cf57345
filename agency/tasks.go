package agency

import (
	"context"
	"fmt"
	"slices"

	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/mutation"
)

// Tasks is the task board collection.
type Tasks struct {
	*Collection[Task]
}

// NewTasks creates the task collection.
func NewTasks(deps Deps) (*Tasks, error) {
	c, err := NewCollection[Task](deps, "tasks", cache.CategoryDynamic, "Tarefa")
	if err != nil {
		return nil, err
	}
	return &Tasks{Collection: c}, nil
}

// Board lists the tasks of one status column ordered by due date.
func (t *Tasks) Board(ctx context.Context, status string) ([]Task, error) {
	if !slices.Contains(taskStatuses, status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	q := backend.Query{Order: []backend.Order{{Column: "due_date"}}}.Where(backend.Eq("status", status))
	return t.List(ctx, q)
}

// SetStatus moves a task to status. The move shows immediately in the
// cached detail and lists and is undone if the backend rejects it.
func (t *Tasks) SetStatus(ctx context.Context, id, status string) (Task, error) {
	if !slices.Contains(taskStatuses, status) {
		var zero Task
		return zero, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	set := func(v *Task) { v.Status = status }
	spec := mutation.Spec{
		Name:         "set_status",
		Optimistic:   optimisticField(t.Collection, id, func(v *Task) bool { return v.ID == id }, set),
		SuccessTitle: "Tarefa atualizada",
		FailureTitle: "Erro ao mover tarefa",
	}
	return t.patchRecord(ctx, spec, id, map[string]any{"status": status})
}
