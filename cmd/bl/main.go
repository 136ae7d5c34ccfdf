package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"buildledger/internal/app"
	"buildledger/internal/db"
	"buildledger/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Buildledger CLI",
	Long: `Buildledger tracks construction milestones through a role-gated approval workflow.
- Participants: every identity holds exactly one role (contractor, architect, investor, supplier) granted once by the admin.
- Milestones: a contractor submits evidence hashes, an architect verifies or requests changes, an investor approves.
- Deliveries: suppliers log material deliveries against milestone ids; entries are permanent.
- Documents: any registered identity can anchor a document hash in the audit log.
- Audit log: every accepted operation appends a hash-chained entry; 'bl log verify' recomputes the chain.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger(viper.GetString("log-level")))
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BUILDLEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting identity")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(deliveryCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"), slog.Default())
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

// actorID returns the acting identity; mutations refuse to run without one.
func actorID() (string, error) {
	actor := strings.TrimSpace(viper.GetString("actor-id"))
	if actor == "" {
		return "", fmt.Errorf("--actor-id (or BUILDLEDGER_ACTOR_ID) required")
	}
	return actor, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printJSONOrTable prints v as JSON under --json, otherwise renders the
// table built by rows.
func printJSONOrTable(v any, header table.Row, rows func(tw table.Writer)) error {
	if viper.GetBool("json") || rows == nil {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	rows(tw)
	tw.Render()
	return nil
}

func participantRows(items ...domain.Participant) func(table.Writer) {
	return func(tw table.Writer) {
		for _, p := range items {
			tw.AppendRow(table.Row{p.ID, p.Role, p.Registered, p.RegisteredBy, p.RegisteredAt})
		}
	}
}

var participantHeader = table.Row{"Identity", "Role", "Registered", "By", "At"}

func milestoneRows(items ...domain.Milestone) func(table.Writer) {
	return func(tw table.Writer) {
		for _, m := range items {
			tw.AppendRow(table.Row{m.ID, m.Status, m.SubmitterID, deref(m.VerifierID), deref(m.ApproverID), len(m.Hashes), m.Submissions, m.UpdatedAt})
		}
	}
}

var milestoneHeader = table.Row{"ID", "Status", "Submitter", "Verifier", "Approver", "Hashes", "Submissions", "Updated"}

func deliveryRows(items ...domain.Delivery) func(table.Writer) {
	return func(tw table.Writer) {
		for _, d := range items {
			if !d.Exists {
				tw.AppendRow(table.Row{d.ID, "-", "", "", "", ""})
				continue
			}
			tw.AppendRow(table.Row{d.ID, d.MilestoneID, d.SupplierID, d.Hash, d.Description, d.CreatedAt})
		}
	}
}

var deliveryHeader = table.Row{"ID", "Milestone", "Supplier", "Hash", "Description", "Created"}

func eventRows(items ...domain.Event) func(table.Writer) {
	return func(tw table.Writer) {
		for _, e := range items {
			ref := ""
			switch {
			case e.MilestoneID != nil:
				ref = fmt.Sprintf("milestone %d", *e.MilestoneID)
			case e.DeliveryID != nil:
				ref = fmt.Sprintf("delivery %d", *e.DeliveryID)
			}
			tw.AppendRow(table.Row{e.Seq, e.TS, e.Kind, e.ActorID, e.Role, ref, shortHash(e.Hash)})
		}
	}
}

var eventHeader = table.Row{"Seq", "TS", "Kind", "Actor", "Role", "Ref", "Hash"}

func shortHash(h domain.Hash) string {
	return h.String()[:12]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseHashArgs parses --hash values and hashes every --file.
func parseHashArgs(hashes, files []string) ([]domain.Hash, error) {
	out, err := domain.ParseHashes(hashes)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		h, err := domain.HashFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func singleHash(hash, file string) (domain.Hash, error) {
	switch {
	case hash != "" && file != "":
		return domain.Hash{}, fmt.Errorf("use either --hash or --file")
	case file != "":
		return domain.HashFile(file)
	case hash != "":
		return domain.ParseHash(hash)
	default:
		return domain.Hash{}, fmt.Errorf("--hash or --file required")
	}
}
