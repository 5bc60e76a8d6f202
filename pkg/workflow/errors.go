package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatchingUsers is returned when an explicit id subset selects
	// nobody.
	ErrNoMatchingUsers = errors.New("no users match the requested ids")

	// ErrNoGroupID is returned when a source would be created without a
	// group to reference.
	ErrNoGroupID = errors.New("no group id available for source")
)

// ConfigurationError is a missing or malformed credential or setting,
// detected before any external call.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.Msg
	}

	return fmt.Sprintf("configuration: %s: %v", e.Msg, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// StateStoreError is a failed state store read or write. It always aborts
// the enclosing workflow.
type StateStoreError struct {
	Op  string
	Err error
}

func (e *StateStoreError) Error() string {
	return fmt.Sprintf("state store: %s: %v", e.Op, e.Err)
}

func (e *StateStoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	return &StateStoreError{Op: op, Err: err}
}

// IsFatal reports whether err must abort a whole workflow run rather than a
// single user.
func IsFatal(err error) bool {
	var (
		storeErr *StateStoreError
		cfgErr   *ConfigurationError
	)

	return errors.As(err, &storeErr) || errors.As(err, &cfgErr)
}
