// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for registration and dispatch failures.
const (
	CodeDuplicateCommand  = "DUPLICATE_COMMAND"
	CodeInvalidName       = "INVALID_NAME"
	CodeCommandNotFound   = "COMMAND_NOT_FOUND"
	CodeOnCooldown        = "ON_COOLDOWN"
	CodeMissingPermission = "MISSING_PERMISSION"
	CodeAlreadyRunning    = "ALREADY_RUNNING"
	CodeHandlerFailed     = "HANDLER_FAILED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeUserError         = "USER_ERROR"
	CodeNilRegistry       = "NIL_REGISTRY"
	CodeStoreFailed       = "STORE_FAILED"
)

// ErrNilRegistry is returned by NewDispatcher when no registry is given.
var ErrNilRegistry = oops.Code(CodeNilRegistry).Errorf("registry cannot be nil")

// ErrDuplicateCommand creates an error for a name or alias that is already
// registered.
func ErrDuplicateCommand(name, existing string) error {
	return oops.Code(CodeDuplicateCommand).
		With("name", name).
		With("registered_by", existing).
		Errorf("command name %q is already registered by %q", name, existing)
}

// ErrCommandNotFound creates an error for a lookup miss.
func ErrCommandNotFound(name string) error {
	return oops.Code(CodeCommandNotFound).
		With("command", name).
		Errorf("unknown command: %s", name)
}

// ErrOnCooldown creates an error for a rejected invocation during cooldown.
func ErrOnCooldown(name string, left TimeLeft) error {
	return oops.Code(CodeOnCooldown).
		With("command", name).
		With("remaining", left.Remaining.String()).
		Errorf("command %s is on cooldown for %s", name, left)
}

// ErrMissingPermission creates an error listing the permissions a caller lacks.
func ErrMissingPermission(name string, missing []Permission) error {
	return oops.Code(CodeMissingPermission).
		With("command", name).
		With("missing", missing).
		Errorf("missing permissions for command %s", name)
}

// ErrAlreadyRunning creates an error for a busy exclusive command.
func ErrAlreadyRunning(name string) error {
	return oops.Code(CodeAlreadyRunning).
		With("command", name).
		Errorf("There's already an instance of %s command running", name)
}

// ErrRateLimited creates an error for a flood-limited user.
func ErrRateLimited(retryAfterMs int64) error {
	return oops.Code(CodeRateLimited).
		With("retry_after_ms", retryAfterMs).
		Errorf("Too many commands. Please slow down.")
}

type userError struct {
	msg string
}

func (e *userError) Error() string { return e.msg }

// UserError marks a handler failure whose message is safe to show to the
// invoking user.
func UserError(message string) error {
	return oops.Code(CodeUserError).Wrap(&userError{msg: message})
}

// UserMessage extracts the message of a UserError anywhere in err's chain.
func UserMessage(err error) (string, bool) {
	var ue *userError
	if errors.As(err, &ue) {
		return ue.msg, true
	}
	return "", false
}
