/*
errors.go - Error taxonomy for the access engine

ERROR CATEGORIES:
  1. Not found     - user, module or request absent when required
  2. Precondition  - caller-correctable, terminal, never retried
  3. Storage       - opaque infrastructure failures, wrapped with %w
                     (ErrDuplicateProtocol is the one storage conflict callers
                     can match on)

A business denial is NOT an error. It is a Result with OutcomeDenied.

USAGE:
  res, err := engine.CreateRequest(ctx, userID, modules, why, false)
  switch {
  case access.IsNotFound(err):
      // 404
  case access.IsPreconditionFailed(err):
      // 400
  case err != nil:
      // 500
  case res.Denied():
      // created, status NEGADO
  }
*/
package access

import (
	"errors"
	"fmt"
)

// =============================================================================
// KIND SENTINELS
// =============================================================================

var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// =============================================================================
// CONDITION SENTINELS - each wraps its kind
// =============================================================================

var (
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrModuleNotFound  = fmt.Errorf("module %w", ErrNotFound)
	ErrRequestNotFound = fmt.Errorf("request %w", ErrNotFound)

	ErrNoModules                 = fmt.Errorf("%w: at least one module is required", ErrPreconditionFailed)
	ErrModuleInactive            = fmt.Errorf("%w: module is not active", ErrPreconditionFailed)
	ErrDuplicateActiveRequest    = fmt.Errorf("%w: active request already exists for module", ErrPreconditionFailed)
	ErrAlreadyHasAccess          = fmt.Errorf("%w: user already has active access to module", ErrPreconditionFailed)
	ErrInsufficientJustification = fmt.Errorf("%w: justificativa insuficiente ou genérica", ErrPreconditionFailed)
	ErrInvalidStateTransition    = fmt.Errorf("%w: invalid state transition", ErrPreconditionFailed)
	ErrNoActiveAccess            = fmt.Errorf("%w: no active access to renew", ErrPreconditionFailed)
	ErrTooEarlyToRenew           = fmt.Errorf("%w: too early to renew", ErrPreconditionFailed)
)

// ErrDuplicateProtocol is returned by stores when a protocol is inserted twice.
var ErrDuplicateProtocol = errors.New("duplicate request protocol")

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// RuleError attaches the offending module or protocol to a condition sentinel.
type RuleError struct {
	Err      error
	ModuleID string
	Protocol string
	Detail   string
}

func (e *RuleError) Error() string {
	msg := e.Err.Error()
	if e.ModuleID != "" {
		msg += ": " + e.ModuleID
	}
	if e.Protocol != "" {
		msg += ": " + e.Protocol
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

func moduleError(err error, moduleID string) error {
	return &RuleError{Err: err, ModuleID: moduleID}
}

func protocolError(err error, protocol, detail string) error {
	return &RuleError{Err: err, Protocol: protocol, Detail: detail}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing user, module or request.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPreconditionFailed returns true if the caller can correct the input and retry.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}
