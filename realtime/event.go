package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	// EventAll matches every type in a Filter.
	EventAll EventType = "*"
)

// Event is one row change from the feed.
type Event struct {
	Type       EventType      `json:"event_type"`
	Schema     string         `json:"schema"`
	Table      string         `json:"table"`
	Old        map[string]any `json:"old_record,omitempty"`
	New        map[string]any `json:"new_record,omitempty"`
	CommitTime time.Time      `json:"commit_timestamp,omitempty"`
}

// Record returns the row the event is about: the new row, or the old row
// for deletes.
func (e Event) Record() map[string]any {
	if e.Type == EventDelete || e.New == nil {
		return e.Old
	}
	return e.New
}

// Field returns a column of Record formatted as a string.
func (e Event) Field(column string) (string, bool) {
	v, ok := e.Record()[column]
	if !ok || v == nil {
		return "", false
	}
	return formatField(v), true
}

// OldField returns a column of the previous row.
func (e Event) OldField(column string) (string, bool) {
	v, ok := e.Old[column]
	if !ok || v == nil {
		return "", false
	}
	return formatField(v), true
}

// formatField renders a decoded column the way it appears in filters and
// keys. Numbers never use exponent form, so 1234567 stays "1234567".
func formatField(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// ID returns the "id" column of Record.
func (e Event) ID() string {
	id, _ := e.Field("id")
	return id
}
