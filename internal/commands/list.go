package commands

import (
	"context"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/metricwatch/internal/ranker"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "Show a user's tracked metrics with rank and graph data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			a, err := setup(ctx, setupOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return runList(ctx, os.Stdout, ranker.New(a.store, a.logger), args[0])
		},
	}
}

func runList(ctx context.Context, w io.Writer, r *ranker.Ranker, arg string) error {
	userID, err := parseID(arg, "user-id")
	if err != nil {
		return err
	}
	resp, err := r.ListForUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := printJSON(w, resp); err != nil {
		return err
	}
	if resp.Incomplete {
		color.Yellow("warning: some metrics could not be fully computed")
	}
	return nil
}
