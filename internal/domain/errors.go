package domain

import (
	"errors"
	"fmt"
)

// Rejections. Each leaves the store and the audit log untouched.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrEmptyEvidence     = errors.New("empty evidence")
	ErrDuplicateDelivery = errors.New("duplicate delivery")
	ErrInvalidHash       = errors.New("invalid hash")
)

// TransitionError reports a workflow operation attempted from a status that
// does not allow it.
type TransitionError struct {
	MilestoneID int64
	From        MilestoneStatus
	Op          string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid milestone transition: %s on milestone %d in status %s", e.Op, e.MilestoneID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ErrInvalidArgument marks malformed input that is not one of the workflow
// rejections above, such as an empty identity.
var ErrInvalidArgument = errors.New("invalid argument")
