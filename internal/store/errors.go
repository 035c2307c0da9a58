package store

import (
	"errors"
	"fmt"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

// ErrNotFound indicates the task id does not exist.
var ErrNotFound = errors.New("task not found")

// ErrDuplicateTask indicates an insert with an existing task id.
var ErrDuplicateTask = errors.New("task already exists")

// ErrInvalidTransition indicates a disallowed status edge. The row is not
// modified.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotStaged indicates a plan update on a task that left STAGED.
var ErrNotStaged = errors.New("task is not staged")

// StorageError wraps an underlying database failure (disk, lock timeout).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err as a StorageError unless it is already one of the
// typed sentinels.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateTask) ||
		errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotStaged) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// transitionErr builds an ErrInvalidTransition with edge detail.
func transitionErr(taskID string, from, to models.TaskStatus) error {
	return fmt.Errorf("%w: task %s cannot move %s -> %s", ErrInvalidTransition, taskID, from, to)
}
