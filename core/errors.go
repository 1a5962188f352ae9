package core

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout              = errors.New("operation timed out")
	ErrNotLoggedIn          = errors.New("not logged in")
	ErrValidation           = errors.New("token validation failed")
	ErrAuthentication       = errors.New("authentication rejected")
	ErrNotFound             = errors.New("not found")
	ErrUserRejected         = errors.New("user rejected the request")
	ErrStateMismatch        = errors.New("state mismatch")
	ErrStoreOperationFailed = errors.New("store operation failed")
	ErrInvalidAddress       = errors.New("invalid ethereum address")
	ErrLoginInProgress      = errors.New("login already in progress")
	ErrLoginFailed          = errors.New("login failed")
)

// TimeoutError is returned when a lock, handshake or network wait expires
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, ErrTimeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// NotLoggedInError signals that no refresh capability exists for the session
type NotLoggedInError struct{}

func (e *NotLoggedInError) Error() string { return ErrNotLoggedIn.Error() }

func (e *NotLoggedInError) Is(target error) bool { return target == ErrNotLoggedIn }

// ValidationError is returned when an identity token or handshake state fails checks
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrValidation, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// AuthenticationError carries the structured rejection of the auth server
type AuthenticationError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *AuthenticationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", ErrAuthentication, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", ErrAuthentication, e.Code, e.Description)
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }
