package ingestion

import (
	"errors"
	"fmt"
)

// TransientError wraps a collaborator failure that the queue retries.
type TransientError struct {
	Op      string
	AssetID string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ErrQueueUnavailable is returned when a task cannot be handed to the queue.
var ErrQueueUnavailable = errors.New("task queue unavailable")

// ErrTaskPending is returned by Requeue when the image already has a task
// queued or running.
var ErrTaskPending = errors.New("image already has a pending task")
