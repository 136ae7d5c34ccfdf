package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"buildledger/internal/config"
	"buildledger/internal/domain"
)

func TestOpenBootstrapsConfiguredAdmin(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := config.WriteDefault(dir, "tower-a", "0xAD"); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for i := 0; i < 2; i++ {
		ws, err := Open(ctx, dir, logger)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		role, err := ws.Engine.RoleOf(ctx, "0xAD")
		if err != nil || role != domain.RoleAdmin {
			t.Fatalf("open #%d: admin role %s (%v)", i, role, err)
		}
		ws.Close()
	}
}

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	ctx := context.Background()
	ws, err := Open(ctx, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	if ws.Config.Admin.ActorID != DefaultAdminID {
		t.Fatalf("unexpected admin %s", ws.Config.Admin.ActorID)
	}
	if role, _ := ws.Engine.RoleOf(ctx, DefaultAdminID); role != domain.RoleAdmin {
		t.Fatalf("default admin not bootstrapped")
	}
}
