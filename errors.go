package slashauth

import "github.com/layer-3/slashauth/core"

// Errors returned by the Client; match them with errors.Is
var (
	ErrTimeout              = core.ErrTimeout
	ErrNotLoggedIn          = core.ErrNotLoggedIn
	ErrValidation           = core.ErrValidation
	ErrAuthentication       = core.ErrAuthentication
	ErrUserRejected         = core.ErrUserRejected
	ErrStateMismatch        = core.ErrStateMismatch
	ErrStoreOperationFailed = core.ErrStoreOperationFailed
	ErrLoginInProgress      = core.ErrLoginInProgress
	ErrLoginFailed          = core.ErrLoginFailed
)

// Typed errors; match them with errors.As
type (
	TimeoutError        = core.TimeoutError
	NotLoggedInError    = core.NotLoggedInError
	ValidationError     = core.ValidationError
	AuthenticationError = core.AuthenticationError
)
