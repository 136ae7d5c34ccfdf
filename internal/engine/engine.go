package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"buildledger/internal/config"
	"buildledger/internal/domain"
	"buildledger/internal/engine/auth"
	"buildledger/internal/events"
	"buildledger/internal/repo"
)

// Engine executes workflow operations. Every mutation runs in one sqlite
// transaction under the write lock, so operations never interleave.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
	Log    *slog.Logger

	mu *sync.RWMutex
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Audit:  events.Writer{DB: db},
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Now:    time.Now,
		Log:    slog.Default(),
		mu:     &sync.RWMutex{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) lock() func() {
	if e.mu == nil {
		return func() {}
	}
	e.mu.Lock()
	return e.mu.Unlock
}

func (e Engine) rlock() func() {
	if e.mu == nil {
		return func() {}
	}
	e.mu.RLock()
	return e.mu.RUnlock
}

// begin opens the operation's transaction and fixes its timestamp. The
// timestamp never precedes the newest audit entry, even if the host clock
// stepped back.
func (e Engine) begin(ctx context.Context) (*sql.Tx, time.Time, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	tail, err := e.Audit.Tail(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, time.Time{}, err
	}
	ts := e.now().UTC()
	if ts.Before(tail.TS) {
		ts = tail.TS
	}
	return tx, ts, nil
}

var rejections = []error{
	domain.ErrUnauthorized,
	domain.ErrAlreadyRegistered,
	domain.ErrInvalidRole,
	domain.ErrInvalidTransition,
	domain.ErrEmptyEvidence,
	domain.ErrDuplicateDelivery,
	domain.ErrInvalidHash,
	domain.ErrInvalidArgument,
}

// IsRejection reports whether err is a validation rejection rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

func (e Engine) logResult(op, actor string, err error, attrs ...any) {
	args := append([]any{"op", op, "actor", actor}, attrs...)
	switch {
	case err == nil:
		e.logger().Debug("operation committed", args...)
	case IsRejection(err):
		e.logger().Info("operation rejected", append(args, "err", err)...)
	default:
		e.logger().Error("operation failed", append(args, "err", err)...)
	}
}

// Bootstrap registers adminID as ADMIN unless the registry already has an
// admin. It is safe to call on every start.
func (e Engine) Bootstrap(ctx context.Context, adminID string) (domain.Participant, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return domain.Participant{}, fmt.Errorf("%w: admin identity required", domain.ErrInvalidArgument)
	}
	unlock := e.lock()
	defer unlock()
	tx, ts, err := e.begin(ctx)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()

	admins, err := e.Repo.ListParticipants(ctx, tx, domain.RoleAdmin)
	if err != nil {
		return domain.Participant{}, err
	}
	if len(admins) > 0 {
		for _, a := range admins {
			if a.ID == adminID {
				return a, nil
			}
		}
		e.logger().Warn("configured admin ignored; registry already has an admin", "configured", adminID, "admin", admins[0].ID)
		return admins[0], nil
	}
	if existing, err := e.Repo.GetParticipant(ctx, tx, adminID); err == nil {
		return domain.Participant{}, fmt.Errorf("bootstrap admin %s holds role %s: %w", adminID, existing.Role, domain.ErrAlreadyRegistered)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Participant{}, err
	}
	p := domain.Participant{
		ID:           adminID,
		Role:         domain.RoleAdmin,
		Registered:   true,
		RegisteredBy: adminID,
		RegisteredAt: ts.Format(events.TimeFormat),
	}
	if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
		return domain.Participant{}, fmt.Errorf("insert admin: %w", err)
	}
	if _, err := e.Audit.Append(ctx, tx, ts, events.Entry{
		Kind:    domain.EventParticipantRegistered,
		ActorID: adminID,
		Role:    domain.RoleAdmin,
		Payload: events.EventPayload{"target": adminID, "role": domain.RoleAdmin.String(), "bootstrap": true},
	}); err != nil {
		return domain.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}
	e.logger().Info("admin bootstrapped", "admin", adminID)
	return p, nil
}

// RegisterParticipant enrolls target with role. Only the admin may call it,
// and a role once granted is never changed.
func (e Engine) RegisterParticipant(ctx context.Context, actorID, target string, role domain.Role) (domain.Participant, error) {
	p, err := e.registerParticipant(ctx, actorID, strings.TrimSpace(target), role)
	e.logResult("participant.register", actorID, err, "target", target, "role", role.String())
	return p, err
}

func (e Engine) registerParticipant(ctx context.Context, actorID, target string, role domain.Role) (domain.Participant, error) {
	unlock := e.lock()
	defer unlock()
	tx, ts, err := e.begin(ctx)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()

	actorRole, err := e.Auth.Authorize(ctx, tx, actorID, domain.RoleAdmin)
	if err != nil {
		return domain.Participant{}, err
	}
	if target == "" {
		return domain.Participant{}, fmt.Errorf("%w: participant identity required", domain.ErrInvalidArgument)
	}
	if !role.Grantable() {
		return domain.Participant{}, fmt.Errorf("register %s as %s: %w", target, role, domain.ErrInvalidRole)
	}
	if existing, err := e.Repo.GetParticipant(ctx, tx, target); err == nil {
		return domain.Participant{}, fmt.Errorf("%s is registered as %s: %w", target, existing.Role, domain.ErrAlreadyRegistered)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Participant{}, err
	}

	p := domain.Participant{
		ID:           target,
		Role:         role,
		Registered:   true,
		RegisteredBy: actorID,
		RegisteredAt: ts.Format(events.TimeFormat),
	}
	if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
		return domain.Participant{}, fmt.Errorf("insert participant: %w", err)
	}
	if _, err := e.Audit.Append(ctx, tx, ts, events.Entry{
		Kind:    domain.EventParticipantRegistered,
		ActorID: actorID,
		Role:    actorRole,
		Payload: events.EventPayload{"target": target, "role": role.String()},
	}); err != nil {
		return domain.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}
