package store

import "fmt"

// PersistenceError indicates a snapshot could not be written.
type PersistenceError struct {
	Topic string
	Path  string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist snapshot for %q (%s): %v", e.Topic, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
