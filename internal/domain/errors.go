package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound signals that the directory has no account for a login.
	ErrAccountNotFound = errors.New("directory: account not found")
	// ErrDuplicateLogin is returned when a concurrent request created the same login first.
	ErrDuplicateLogin = errors.New("directory: login already exists")
	// ErrFallbackDisabled is returned when password authentication is requested but not allowed.
	ErrFallbackDisabled = errors.New("auth: password authentication disabled")
	// ErrPasswordResetDisabled is returned when self-service reset is not allowed.
	ErrPasswordResetDisabled = errors.New("auth: password reset disabled")
	// ErrInvalidCredentials covers unknown logins and wrong passwords on the fallback path.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// DirectoryError is a fatal failure talking to the account directory.
type DirectoryError struct {
	Op  string
	Err error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory %s: %v", e.Op, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

// PersistenceError is a fatal failure reading or writing the options record.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("options %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports a rejected settings submission.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
