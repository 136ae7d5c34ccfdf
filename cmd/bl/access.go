package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"buildledger/internal/app"
	"buildledger/internal/domain"
	"buildledger/internal/events"
	"buildledger/internal/repo"
	"buildledger/internal/server"
)

const jwtSecretEnv = "BUILDLEDGER_JWT_SECRET"

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "API keys for the HTTP API",
		Long:  "An API key authenticates its holder as one identity. Only the key hash is stored.",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func newAPIKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "bl_" + hex.EncodeToString(buf), nil
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an identity (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				var err error
				if actor, err = actorID(); err != nil {
					return err
				}
			}
			secret, err := newAPIKeySecret()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(events.TimeFormat),
				}
				if err := ws.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				out := map[string]string{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret}
				return printJSONOrTable(out, table.Row{"ID", "Actor", "Name", "Key"}, func(tw table.Writer) {
					tw.AppendRow(table.Row{key.ID, key.ActorID, key.Name, secret})
				})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "identity the key authenticates as (default --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				keys, err := ws.Engine.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys, table.Row{"ID", "Actor", "Name", "Created"}, func(tw table.Writer) {
					for _, k := range keys {
						tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "identity filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("api key %s not found", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer tokens for the HTTP API"}
	var (
		actor string
		ttl   time.Duration
	)
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint an HS256 token signed with " + jwtSecretEnv,
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				var err error
				if actor, err = actorID(); err != nil {
					return err
				}
			}
			secret := strings.TrimSpace(os.Getenv(jwtSecretEnv))
			if secret == "" {
				return fmt.Errorf("%s is required", jwtSecretEnv)
			}
			token, err := server.SignToken(secret, actor, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	mint.Flags().StringVar(&actor, "actor", "", "token subject (default --actor-id)")
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	cmd.AddCommand(mint)
	return cmd
}
