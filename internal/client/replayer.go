package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"presence/internal/outbox"
)

// Replayer replays outbox items through the API.
type Replayer struct {
	Client *Client
}

// Replay performs the remote call of one item. Deleting a student that is
// already gone counts as done. A missing session or an unreachable API is
// reported as outbox.ErrRetryLater so the item keeps its attempts.
func (r Replayer) Replay(ctx context.Context, item outbox.Item) (outbox.Outcome, error) {
	out, err := r.replay(ctx, item)
	if err != nil && holdable(err) {
		return out, fmt.Errorf("%w: %w", outbox.ErrRetryLater, err)
	}
	return out, err
}

// holdable reports whether err is about the caller or the link rather than
// the item itself.
func holdable(err error) bool {
	var re *RemoteError
	if !errors.As(err, &re) {
		return false
	}
	return re.StatusCode == 0 || re.StatusCode == http.StatusUnauthorized
}

func (r Replayer) replay(ctx context.Context, item outbox.Item) (outbox.Outcome, error) {
	switch item.Type {
	case outbox.Attendance:
		var p outbox.AttendancePayload
		if err := item.Decode(&p); err != nil {
			return outbox.Outcome{}, err
		}
		_, err := r.Client.SaveAttendance(ctx, p)
		return outbox.Outcome{}, err

	case outbox.AddStudent:
		var p outbox.AddStudentPayload
		if err := item.Decode(&p); err != nil {
			return outbox.Outcome{}, err
		}
		s, err := r.Client.CreateStudent(ctx, p.NewStudent)
		if err != nil {
			return outbox.Outcome{}, err
		}
		return outbox.Outcome{CreatedID: s.ID}, nil

	case outbox.UpdateStudent:
		var p outbox.UpdateStudentPayload
		if err := item.Decode(&p); err != nil {
			return outbox.Outcome{}, err
		}
		_, err := r.Client.UpdateStudent(ctx, p.ID, p.StudentUpdate)
		return outbox.Outcome{}, err

	case outbox.DeleteStudent:
		var p outbox.DeleteStudentPayload
		if err := item.Decode(&p); err != nil {
			return outbox.Outcome{}, err
		}
		err := r.Client.DeleteStudent(ctx, p.ID)
		if StatusCode(err) == http.StatusNotFound {
			return outbox.Outcome{}, nil
		}
		return outbox.Outcome{}, err
	}
	return outbox.Outcome{}, fmt.Errorf("replay: unknown item type %q", item.Type)
}
