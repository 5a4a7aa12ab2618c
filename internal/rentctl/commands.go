// Package rentctl implements the operator command line: schema migrations,
// the maintenance sweeps and admin bootstrap.
package rentctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/server"
	"github.com/dmitrijs2005/studyrent/internal/server/config"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/spf13/cobra"
)

// Operator is what the commands need from an opened application.
type Operator interface {
	Migrate(ctx context.Context) error
	CompleteExpired(ctx context.Context, now time.Time) (int, error)
	ReconcileDetachments(ctx context.Context) (int, error)
	CreateAdmin(ctx context.Context, email, password string) (*models.User, error)
	Close() error
}

type OpenFunc func(ctx context.Context, cfg *config.Config) (Operator, error)

type appOperator struct{ *server.App }

func (a appOperator) CompleteExpired(ctx context.Context, now time.Time) (int, error) {
	return a.Contracts.CompleteExpired(ctx, now)
}

func (a appOperator) ReconcileDetachments(ctx context.Context) (int, error) {
	return a.Payments.ReconcileDetachments(ctx)
}

func (a appOperator) CreateAdmin(ctx context.Context, email, password string) (*models.User, error) {
	return a.Users.CreateAdmin(ctx, email, password)
}

// OpenApp opens the full application for the configured store.
func OpenApp(ctx context.Context, cfg *config.Config) (Operator, error) {
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return appOperator{app}, nil
}

var Version = "dev"

func NewRootCmd(open OpenFunc) *cobra.Command {
	var configPath, dsn string

	root := &cobra.Command{
		Use:           "rentctl",
		Short:         "Operator tool for the student rental backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to JSON config file")
	root.PersistentFlags().StringVarP(&dsn, "dsn", "d", "", "database DSN, overrides config and environment")

	// withOperator opens the application for one command and closes it after.
	withOperator := func(cmd *cobra.Command, fn func(ctx context.Context, op Operator) error) error {
		var args []string
		if configPath != "" {
			args = append(args, "-c", configPath)
		}
		if dsn != "" {
			args = append(args, "-d", dsn)
		}
		ctx := cmd.Context()
		op, err := open(ctx, config.Load(args))
		if err != nil {
			return err
		}
		defer op.Close()
		return fn(ctx, op)
	}

	root.AddCommand(migrateCmd(withOperator))
	root.AddCommand(completeExpiredCmd(withOperator))
	root.AddCommand(reconcileCmd(withOperator))
	root.AddCommand(createAdminCmd(withOperator))
	return root
}

type runner func(cmd *cobra.Command, fn func(ctx context.Context, op Operator) error) error

func migrateCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, op Operator) error {
				if err := op.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func completeExpiredCmd(run runner) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "complete-expired",
		Short: "Complete active contracts whose end date has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now().UTC()
			if asOf != "" {
				t, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
				now = t
			}
			return run(cmd, func(ctx context.Context, op Operator) error {
				n, err := op.CompleteExpired(ctx, now)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "completed %d contracts\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "treat this day (YYYY-MM-DD) as today")
	return cmd
}

func reconcileCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Retry subscription cancellations that failed at the provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, op Operator) error {
				n, err := op.ReconcileDetachments(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resolved %d pending unlinks\n", n)
				return nil
			})
		},
	}
}

func createAdminCmd(run runner) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password := []byte(os.Getenv("STUDYRENT_ADMIN_PASSWORD"))
			if len(password) == 0 {
				var err error
				if password, err = getPassword(cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			defer wipe(password)

			return run(cmd, func(ctx context.Context, op Operator) error {
				u, err := op.CreateAdmin(ctx, email, string(password))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s created with id %s\n", u.Email, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, root *cobra.Command, stderr io.Writer) int {
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
