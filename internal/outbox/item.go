// Package outbox buffers mutations made while the API is unreachable and
// replays them in order once connectivity returns.
//
// Items are persisted after every change to the queue, so a restart
// resumes whatever was not yet replayed. A flush replays a snapshot
// sequentially; failures stay queued with an attempt count and move to the
// dead-letter store once the configured limit is reached.
package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"presence/internal/model"
)

// Type names the remote operation an item replays.
type Type string

const (
	Attendance    Type = "ATTENDANCE"
	AddStudent    Type = "ADD_STUDENT"
	UpdateStudent Type = "UPDATE_STUDENT"
	DeleteStudent Type = "DELETE_STUDENT"
)

// Valid reports whether t is a known operation.
func (t Type) Valid() bool {
	switch t {
	case Attendance, AddStudent, UpdateStudent, DeleteStudent:
		return true
	}
	return false
}

// Item is one queued mutation.
type Item struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Attempts  int             `json:"attempts,omitempty"`
	LastError string          `json:"lastError,omitempty"`
}

// Decode unmarshals the payload into v.
func (i Item) Decode(v any) error {
	if err := json.Unmarshal(i.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload of %s: %w", i.Type, i.ID, err)
	}
	return nil
}

// AttendancePayload replaces a day sheet.
type AttendancePayload = model.DaySave

// AddStudentPayload creates a student. LocalID is the placeholder id used by
// later offline items until the store assigns the real one.
type AddStudentPayload struct {
	LocalID string `json:"localId"`
	model.NewStudent
}

// UpdateStudentPayload changes the non-nil fields of a student.
type UpdateStudentPayload struct {
	ID string `json:"id"`
	model.StudentUpdate
}

// DeleteStudentPayload removes a student.
type DeleteStudentPayload struct {
	ID string `json:"id"`
}

const localPrefix = "local-"

// NewLocalID returns a placeholder student id for offline creation.
func NewLocalID() string {
	return localPrefix + uuid.NewString()
}

// IsLocalID reports whether id is a placeholder that was never replayed.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}

// localID returns the placeholder carried by an ADD_STUDENT item.
func localID(item Item) string {
	if item.Type != AddStudent {
		return ""
	}
	var p AddStudentPayload
	if err := item.Decode(&p); err != nil {
		return ""
	}
	return p.LocalID
}

// refs returns the student ids an item targets.
func refs(item Item) []string {
	switch item.Type {
	case UpdateStudent, DeleteStudent:
		var p DeleteStudentPayload
		if item.Decode(&p) == nil && p.ID != "" {
			return []string{p.ID}
		}
	case Attendance:
		var p AttendancePayload
		if item.Decode(&p) == nil {
			ids := make([]string, 0, len(p.Present))
			for _, ps := range p.Present {
				ids = append(ids, ps.StudentID)
			}
			return ids
		}
	}
	return nil
}

// rewrite swaps placeholder ids for store ids. The payload is re-encoded
// only when something changed.
func rewrite(item Item, aliases map[string]string) Item {
	if len(aliases) == 0 {
		return item
	}
	switch item.Type {
	case UpdateStudent:
		var p UpdateStudentPayload
		if item.Decode(&p) != nil {
			return item
		}
		if real, ok := aliases[p.ID]; ok {
			p.ID = real
			return withPayload(item, p)
		}
	case DeleteStudent:
		var p DeleteStudentPayload
		if item.Decode(&p) != nil {
			return item
		}
		if real, ok := aliases[p.ID]; ok {
			p.ID = real
			return withPayload(item, p)
		}
	case Attendance:
		var p AttendancePayload
		if item.Decode(&p) != nil {
			return item
		}
		changed := false
		for i, ps := range p.Present {
			if real, ok := aliases[ps.StudentID]; ok {
				p.Present[i].StudentID = real
				changed = true
			}
		}
		if changed {
			return withPayload(item, p)
		}
	}
	return item
}

func withPayload(item Item, v any) Item {
	raw, err := json.Marshal(v)
	if err != nil {
		return item
	}
	item.Payload = raw
	return item
}

// LocalID is the placeholder id of an ADD_STUDENT item, or empty.
func (i Item) LocalID() string {
	return localID(i)
}
