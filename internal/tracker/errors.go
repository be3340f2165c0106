package tracker

import (
	"errors"
	"fmt"
)

// ErrNotConfirmed is returned when a stop-tracker request is issued
// without passing the confirmation gate. No command is sent.
var ErrNotConfirmed = errors.New("tracker stop not confirmed")

// CommandError means a start/stop request itself failed (non-2xx or
// network failure). Fatal to that operation: reconciliation polling is
// never started on a failed command.
type CommandError struct {
	Command    string
	StatusCode int
	Err        error
}

func (e *CommandError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("command %s failed: status %d", e.Command, e.StatusCode)
	}
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
