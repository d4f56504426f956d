package services

import (
	"errors"
	"fmt"

	"github.com/taskstake/backend/internal/models"
)

// Lifecycle events. Every status change in the engine goes through this
// table; the create/submit/judge/expire/cancel paths share one definition
// of what is allowed from where.
type Event string

const (
	EventSubmit    Event = "submit"
	EventApprove   Event = "approve"
	EventReject    Event = "reject"
	EventExpire    Event = "expire"
	EventCancel    Event = "cancel"
	EventArchive   Event = "archive"
	EventUnarchive Event = "unarchive"
)

// ErrUnknownEvent is returned for events outside the table.
var ErrUnknownEvent = errors.New("unknown lifecycle event")

// WrongStateError names the state a task is actually in so the caller can
// refresh and retry instead of guessing.
type WrongStateError struct {
	Event   Event
	Current string
}

func (e *WrongStateError) Error() string {
	return fmt.Sprintf("cannot %s a task in state %q", e.Event, e.Current)
}

type transitionRule struct {
	from []string
	to   string
}

var transitions = map[Event]transitionRule{
	EventSubmit:  {from: []string{models.TaskStatusInProgress}, to: models.TaskStatusSubmitted},
	EventApprove: {from: []string{models.TaskStatusSubmitted}, to: models.TaskStatusCompleted},
	EventReject:  {from: []string{models.TaskStatusSubmitted}, to: models.TaskStatusFailed},
	EventExpire:  {from: []string{models.TaskStatusInProgress}, to: models.TaskStatusFailed},
	EventCancel:  {from: []string{models.TaskStatusInProgress}, to: ""}, // row is deleted
	EventArchive: {from: []string{models.TaskStatusCompleted, models.TaskStatusFailed},
		to: ""}, // flag only, status unchanged
	EventUnarchive: {from: []string{models.TaskStatusCompleted, models.TaskStatusFailed}, to: ""},
}

// NextStatus validates event against the current status and returns the
// resulting status ("" for events that do not change it). The database
// layer re-checks the precondition with a compare-and-set; this table is
// the single authoritative definition both layers share.
func NextStatus(event Event, current string) (string, error) {
	rule, ok := transitions[event]
	if !ok {
		return "", ErrUnknownEvent
	}
	for _, from := range rule.from {
		if from == current {
			return rule.to, nil
		}
	}
	return "", &WrongStateError{Event: event, Current: current}
}
