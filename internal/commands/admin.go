package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewUserCmd creates the user command group.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <email>",
			Short: "Create a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, a *app) error {
					u, err := a.store.PutUser(ctx, args[0])
					if err != nil {
						return fmt.Errorf("creating user: %w", err)
					}
					return printJSON(os.Stdout, u)
				})
			},
		},
		&cobra.Command{
			Use:   "delete <user-id>",
			Short: "Soft-delete a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0], "user-id")
				if err != nil {
					return err
				}
				return withApp(func(ctx context.Context, a *app) error {
					if err := a.store.DeleteUser(ctx, id, time.Now().UTC()); err != nil {
						return fmt.Errorf("deleting user: %w", err)
					}
					color.Green("user %d deleted", id)
					return nil
				})
			},
		},
	)
	return cmd
}

// NewMetricTypeCmd creates the metric-type command group.
func NewMetricTypeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "metric-type", Short: "Manage metric types"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name> <key> [key...]",
			Short: "Register a metric type and the access path to its value",
			Long: `Registers a metric type. The keys form the access path into the
market summary payload, for example "price last" reads result.price.last.`,
			Args: cobra.RangeArgs(2, 4),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, a *app) error {
					mt, err := a.store.PutMetricType(ctx, args[0], args[1:])
					if err != nil {
						return fmt.Errorf("creating metric type: %w", err)
					}
					return printJSON(os.Stdout, mt)
				})
			},
		},
		&cobra.Command{
			Use:   "retire <name>",
			Short: "Retire a metric type; its subscriptions close on the next ingest",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, a *app) error {
					if err := a.store.RetireMetricType(ctx, args[0], time.Now().UTC()); err != nil {
						return fmt.Errorf("retiring metric type: %w", err)
					}
					color.Green("metric type %s retired", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

// NewMigrateCmd creates the migrate command.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.store.Migrate(ctx); err != nil {
					return fmt.Errorf("migrating: %w", err)
				}
				color.Green("  ✓ Schema up to date")
				return nil
			})
		},
	}
}

func withApp(fn func(context.Context, *app) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	a, err := setup(ctx, setupOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
