package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ops-portal/internal/app"
	"github.com/spec-kit/ops-portal/internal/config"
	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/observability"
	"github.com/spec-kit/ops-portal/internal/persistence"
	"github.com/spec-kit/ops-portal/internal/repository"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:           "opsctl",
	Short:         "Operator tooling for the ops portal",
	Long:          "opsctl runs migrations, issues access tokens and works the request and ticket queues that need a human.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	rootCmd.AddCommand(migrateCmd(), tokenCmd(), ticketsCmd(), requestsCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withApp wires the engines for one command. Migrations are left to the
// migrate command.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	cfg.Postgres.RunMigrations = false

	portal, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer portal.Close()
	return fn(ctx, portal)
}

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if dir == "" {
				dir = cfg.Postgres.MigrationsDir
			}
			pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), dir, logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied from", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to POSTGRES_MIGRATIONS_DIR)")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Access tokens"}
	var actorID, email string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for an actor in the directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, portal *app.App) error {
				actor, err := resolveActor(ctx, portal.Directory, actorID, email)
				if err != nil {
					return err
				}
				token, expiresAt, err := portal.Tokens.GenerateToken(actor.ID, actor.Role)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"actor_id":   actor.ID,
						"role":       actor.Role,
						"token":      token,
						"expires_at": expiresAt,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	issue.Flags().StringVar(&actorID, "actor", "", "actor id")
	issue.Flags().StringVar(&email, "email", "", "actor email")
	issue.MarkFlagsOneRequired("actor", "email")
	issue.MarkFlagsMutuallyExclusive("actor", "email")
	cmd.AddCommand(issue)
	return cmd
}

// resolveActor finds the token subject by id or, failing that, by email.
func resolveActor(ctx context.Context, directory repository.ActorRepository, actorID, email string) (*domain.Actor, error) {
	var (
		actor *domain.Actor
		err   error
		ref   string
	)
	switch {
	case strings.TrimSpace(actorID) != "":
		ref = actorID
		actor, err = directory.GetByID(ctx, strings.TrimSpace(actorID))
	case strings.TrimSpace(email) != "":
		ref = email
		actor, err = directory.GetByEmail(ctx, strings.TrimSpace(email))
	default:
		return nil, errors.New("an actor id or email is required")
	}
	if err != nil {
		if apperrors.IsMissingRow(err) {
			return nil, fmt.Errorf("actor %s not found in directory", ref)
		}
		return nil, fmt.Errorf("load actor %s: %w", ref, err)
	}
	if !actor.Active {
		return nil, fmt.Errorf("actor %s is inactive", ref)
	}
	return actor, nil
}

func ticketsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tickets", Short: "Ticket queues"}
	var limit int
	overdue := &cobra.Command{
		Use:   "overdue",
		Short: "List open tickets past their SLA deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, portal *app.App) error {
				tickets, err := portal.Tickets.ListOverdueTickets(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), tickets)
				}
				renderOverdueTickets(cmd.OutOrStdout(), tickets, portal.Config.App.PublicURL)
				return nil
			})
		},
	}
	overdue.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(overdue)
	return cmd
}

func requestsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "requests", Short: "Service request queues"}

	var limit int
	unrouted := &cobra.Command{
		Use:   "unrouted",
		Short: "List pending requests that have no approval chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, portal *app.App) error {
				requests, err := portal.Requests.ListUnroutedRequests(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), requests)
				}
				renderUnroutedRequests(cmd.OutOrStdout(), requests)
				return nil
			})
		},
	}
	unrouted.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	var approverID string
	var level int
	addApprover := &cobra.Command{
		Use:   "add-approver <request-id>",
		Short: "Append an approval level to a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, portal *app.App) error {
				approval, err := portal.Requests.AddApprovalLevel(ctx, args[0], approverID, level)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), approval)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "level %d assigned to %s (approval %s)\n", approval.Level, approval.ApproverID, approval.ID)
				return nil
			})
		},
	}
	addApprover.Flags().StringVar(&approverID, "approver", "", "approver actor id")
	addApprover.Flags().IntVar(&level, "level", 1, "approval level")
	_ = addApprover.MarkFlagRequired("approver")

	cmd.AddCommand(unrouted, addApprover)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
