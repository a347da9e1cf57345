package realtime

import (
	"fmt"
	"regexp"
)

// Filter scopes a subscription to one table and optionally to event types
// and a column equality.
type Filter struct {
	// Schema defaults to "public".
	Schema string
	Table  string
	// Events lists accepted types. Empty accepts every type.
	Events []EventType
	// Column and Value restrict rows to Column = Value.
	Column string
	Value  string
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the identifiers and event types.
func (f Filter) Validate() error {
	if !identPattern.MatchString(f.Table) {
		return fmt.Errorf("%w: table %q", ErrInvalidFilter, f.Table)
	}
	if f.Schema != "" && !identPattern.MatchString(f.Schema) {
		return fmt.Errorf("%w: schema %q", ErrInvalidFilter, f.Schema)
	}
	if f.Column != "" && !identPattern.MatchString(f.Column) {
		return fmt.Errorf("%w: column %q", ErrInvalidFilter, f.Column)
	}
	for _, t := range f.Events {
		switch t {
		case EventInsert, EventUpdate, EventDelete, EventAll:
		default:
			return fmt.Errorf("%w: event type %q", ErrInvalidFilter, t)
		}
	}
	return nil
}

func (f Filter) schema() string {
	if f.Schema == "" {
		return "public"
	}
	return f.Schema
}

// ServerFilter returns the server-side row filter, "column=eq.value", or ""
// when the filter has no column condition.
func (f Filter) ServerFilter() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// EventName returns the single event type sent to the server: the only
// type listed, or "*".
func (f Filter) EventName() string {
	if len(f.Events) == 1 {
		return string(f.Events[0])
	}
	return string(EventAll)
}

// Matches reports whether e satisfies the filter.
func (f Filter) Matches(e Event) bool {
	if e.Table != f.Table {
		return false
	}
	if e.Schema != "" && e.Schema != f.schema() {
		return false
	}
	if len(f.Events) > 0 {
		ok := false
		for _, t := range f.Events {
			if t == EventAll || t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Column != "" {
		v, ok := e.Field(f.Column)
		if !ok || v != f.Value {
			return false
		}
	}
	return true
}

// Table returns a filter for every change on table.
func Table(table string, events ...EventType) Filter {
	return Filter{Table: table, Events: events}
}

// Where returns a copy of f restricted to column = value.
func (f Filter) Where(column, value string) Filter {
	f.Column = column
	f.Value = value
	return f
}
