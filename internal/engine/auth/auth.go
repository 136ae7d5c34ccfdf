package auth

import (
	"context"
	"database/sql"
	"fmt"

	"buildledger/internal/domain"
	"buildledger/internal/repo"
)

// ForbiddenError indicates the actor does not hold the role an operation
// requires.
type ForbiddenError struct {
	Required domain.Role
	Actual   domain.Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s required, actor has %s", e.Required, e.Actual)
}

func (e ForbiddenError) Unwrap() error { return domain.ErrUnauthorized }

// Require is the guard predicate: actual must equal required exactly. There
// is no hierarchy, so an admin holds no workflow rights.
func Require(actual, required domain.Role) error {
	if required == domain.RoleNone || actual != required {
		return ForbiddenError{Required: required, Actual: actual}
	}
	return nil
}

// Service resolves roles from the participant registry.
type Service struct {
	Repo repo.Repo
}

// Authorize looks up actorID through tx and checks it against required. The
// actor's role is returned even on failure.
func (s Service) Authorize(ctx context.Context, tx *sql.Tx, actorID string, required domain.Role) (domain.Role, error) {
	if actorID == "" {
		return domain.RoleNone, ForbiddenError{Required: required}
	}
	role, err := s.Repo.RoleOf(ctx, tx, actorID)
	if err != nil {
		return domain.RoleNone, fmt.Errorf("resolve role of %s: %w", actorID, err)
	}
	return role, Require(role, required)
}
