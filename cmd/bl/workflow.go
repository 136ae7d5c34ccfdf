package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"buildledger/internal/app"
	"buildledger/internal/config"
	"buildledger/internal/domain"
)

func initCmd() *cobra.Command {
	var projectID, adminID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create buildledger.yml and bootstrap the admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if projectID == "" {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					return err
				}
				projectID = filepath.Base(abs)
			}
			path, created, err := config.WriteDefault(workspace, projectID, adminID)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s already exists, keeping it\n", path)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				admin, err := ws.Engine.GetParticipant(ctx, ws.Config.Admin.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(admin, participantHeader, participantRows(admin))
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (defaults to the workspace directory name)")
	cmd.Flags().StringVar(&adminID, "admin", app.DefaultAdminID, "admin identity")
	return cmd
}

func participantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "participant", Short: "Participant registry"}
	cmd.AddCommand(participantRegisterCmd())
	cmd.AddCommand(participantListCmd())
	cmd.AddCommand(participantRoleCmd())
	return cmd
}

func participantRegisterCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "register <identity>",
		Short: "Register an identity with one role (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.RegisterParticipant(ctx, actor, args[0], domain.ParseRole(role))
				if err != nil {
					return err
				}
				return printJSONOrTable(p, participantHeader, participantRows(p))
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "contractor, architect, investor or supplier")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func participantListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.RoleNone
			if role != "" {
				if filter = domain.ParseRole(role); filter == domain.RoleNone {
					return fmt.Errorf("unknown role %q", role)
				}
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.ListParticipants(ctx, filter)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, participantHeader, participantRows(items...))
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func participantRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <identity>",
		Short: "Show the role held by an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.GetParticipant(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p, participantHeader, participantRows(p))
			})
		},
	}
}

func parseID(kind, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, raw)
	}
	return id, nil
}

func milestoneCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "milestone", Short: "Milestone approval workflow"}
	cmd.AddCommand(milestoneSubmitCmd())
	cmd.AddCommand(milestoneReviewCmd("request-changes", "Send a submitted milestone back for revision (architect)", func(ws *app.Workspace) reviewFunc {
		return ws.Engine.RequestChanges
	}))
	cmd.AddCommand(milestoneReviewCmd("verify", "Verify a submitted milestone (architect)", func(ws *app.Workspace) reviewFunc {
		return ws.Engine.VerifyMilestone
	}))
	cmd.AddCommand(milestoneReviewCmd("approve", "Approve a verified milestone (investor)", func(ws *app.Workspace) reviewFunc {
		return ws.Engine.ApproveMilestone
	}))
	cmd.AddCommand(milestoneShowCmd())
	cmd.AddCommand(milestoneListCmd())
	return cmd
}

func milestoneSubmitCmd() *cobra.Command {
	var (
		description string
		hashes      []string
		files       []string
	)
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit or resubmit milestone evidence (contractor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			id, err := parseID("milestone", args[0])
			if err != nil {
				return err
			}
			evidence, err := parseHashArgs(hashes, files)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				m, err := ws.Engine.SubmitMilestone(ctx, actor, id, description, evidence)
				if err != nil {
					return err
				}
				return printJSONOrTable(m, milestoneHeader, milestoneRows(m))
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "milestone description")
	cmd.Flags().StringArrayVar(&hashes, "hash", nil, "evidence hash (repeatable)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "evidence file to hash with SHA-256 (repeatable)")
	return cmd
}

type reviewFunc func(ctx context.Context, actorID string, id int64) (domain.Milestone, error)

func milestoneReviewCmd(use, short string, pick func(*app.Workspace) reviewFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			id, err := parseID("milestone", args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				m, err := pick(ws)(ctx, actor, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(m, milestoneHeader, milestoneRows(m))
			})
		},
	}
}

func milestoneShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a milestone with its deliveries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("milestone", args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				m, err := ws.Engine.GetMilestone(ctx, id)
				if err != nil {
					return err
				}
				deliveries, err := ws.Engine.DeliveriesForMilestone(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"milestone": m, "deliveries": deliveries})
				}
				if err := printJSONOrTable(m, milestoneHeader, milestoneRows(m)); err != nil {
					return err
				}
				for _, h := range m.Hashes {
					fmt.Println("evidence", h)
				}
				if len(deliveries) == 0 {
					return nil
				}
				return printJSONOrTable(deliveries, deliveryHeader, deliveryRows(deliveries...))
			})
		},
	}
}

func milestoneListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List milestones",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter domain.MilestoneStatus
			if status != "" {
				s, ok := domain.ParseMilestoneStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				filter = s
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.ListMilestones(ctx, filter)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, milestoneHeader, milestoneRows(items...))
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func deliveryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "delivery", Short: "Material delivery ledger"}
	cmd.AddCommand(deliveryLogCmd())
	cmd.AddCommand(deliveryShowCmd())
	cmd.AddCommand(deliveryListCmd())
	return cmd
}

func deliveryLogCmd() *cobra.Command {
	var (
		deliveryID  int64
		milestoneID int64
		hash, file  string
		description string
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log a delivery against a milestone (supplier)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			if deliveryID < 0 || milestoneID < 0 {
				return fmt.Errorf("ids must not be negative")
			}
			h, err := singleHash(hash, file)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				d, err := ws.Engine.LogDelivery(ctx, actor, deliveryID, milestoneID, h, description)
				if err != nil {
					return err
				}
				return printJSONOrTable(d, deliveryHeader, deliveryRows(d))
			})
		},
	}
	cmd.Flags().Int64Var(&deliveryID, "id", 0, "delivery id")
	cmd.Flags().Int64Var(&milestoneID, "milestone", 0, "milestone id")
	cmd.Flags().StringVar(&hash, "hash", "", "delivery note hash")
	cmd.Flags().StringVar(&file, "file", "", "delivery note file to hash with SHA-256")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("milestone")
	return cmd
}

func deliveryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("delivery", args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				d, err := ws.Engine.GetDelivery(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(d, deliveryHeader, deliveryRows(d))
			})
		},
	}
}

func deliveryListCmd() *cobra.Command {
	var milestone int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				var (
					items []domain.Delivery
					err   error
				)
				if cmd.Flags().Changed("milestone") {
					items, err = ws.Engine.DeliveriesForMilestone(ctx, milestone)
				} else {
					items, err = ws.Engine.ListDeliveries(ctx)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(items, deliveryHeader, deliveryRows(items...))
			})
		},
	}
	cmd.Flags().Int64Var(&milestone, "milestone", 0, "only deliveries for this milestone")
	return cmd
}

func documentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "document", Short: "Document hash registry"}
	var hash, file, docType string
	register := &cobra.Command{
		Use:   "register",
		Short: "Anchor a document hash in the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			h, err := singleHash(hash, file)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				ev, err := ws.Engine.RegisterDocumentHash(ctx, actor, h, docType)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev, eventHeader, eventRows(ev))
			})
		},
	}
	register.Flags().StringVar(&hash, "hash", "", "document hash")
	register.Flags().StringVar(&file, "file", "", "document file to hash with SHA-256")
	register.Flags().StringVar(&docType, "type", "", "document type, e.g. permit or inspection")
	cmd.AddCommand(register)
	return cmd
}
