package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tokenbot/internal/config"
	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/notify"
	"github.com/roach88/tokenbot/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	User  string
	Limit int
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit [dir]",
		Short: "List committed paid actions",
		Long: `List audit records of committed paid actions, oldest first.

With a directory argument, the compressed audit log files in it are read.
Without one, records come from the SQLite database when that is the
configured backend, and from notify.audit_dir otherwise.

Example:
  tokenbot audit
  tokenbot audit ./audit --user 123456789012345678 --limit 20
  tokenbot audit --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Limit < 0 {
				return NewExitError(ExitCommandError, "--limit must not be negative")
			}
			f := opts.formatter(cmd)

			recs, err := readAudit(cmd, opts, args)
			if err != nil {
				return f.Fail(ExitCommandError, CodeStorage, "failed to read audit records", err)
			}
			if recs == nil {
				recs = []ir.AuditRecord{}
			}
			return f.Success(recs, auditText(recs))
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "only records where this user is actor or target")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "only the most recent N records (0 for all)")

	return cmd
}

func readAudit(cmd *cobra.Command, opts *AuditOptions, args []string) ([]ir.AuditRecord, error) {
	if len(args) == 1 {
		return readAuditDir(args[0], opts)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Backend != config.BackendSQLite {
		return readAuditDir(cfg.Notify.AuditDir, opts)
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.ReadAudit(commandContext(cmd), store.AuditFilter{UserID: opts.User, Limit: opts.Limit})
}

// readAuditDir applies the same filter as store.ReadAudit to a file log.
func readAuditDir(dir string, opts *AuditOptions) ([]ir.AuditRecord, error) {
	all, err := notify.ReadAuditLog(dir)
	if err != nil {
		return nil, err
	}
	var recs []ir.AuditRecord
	for _, rec := range all {
		if opts.User == "" || rec.ActorID == opts.User || rec.TargetID == opts.User {
			recs = append(recs, rec)
		}
	}
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[len(recs)-opts.Limit:]
	}
	return recs, nil
}

func auditText(recs []ir.AuditRecord) string {
	if len(recs) == 0 {
		return "No audit records."
	}
	parts := make([]string, len(recs))
	for i, rec := range recs {
		parts[i] = notify.RenderAudit(rec)
	}
	return strings.TrimSuffix(strings.Join(parts, "\n"), "\n") + fmt.Sprintf("\n\n%d records", len(recs))
}
