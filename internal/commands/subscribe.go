package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/metricwatch/internal/registrar"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

const requestTimeout = 30 * time.Second

// NewSubscribeCmd creates the subscribe command.
func NewSubscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <user-id> <market> <pair> <metric>",
		Short: "Start tracking a metric for a user",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistrar(func(ctx context.Context, reg *registrar.Registrar) error {
				return runSubscribe(ctx, os.Stdout, reg, args, true)
			})
		},
	}
}

// NewUnsubscribeCmd creates the unsubscribe command.
func NewUnsubscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe <user-id> <market> <pair> <metric>",
		Short: "Stop tracking a metric for a user",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistrar(func(ctx context.Context, reg *registrar.Registrar) error {
				return runSubscribe(ctx, os.Stdout, reg, args, false)
			})
		},
	}
}

func withRegistrar(fn func(context.Context, *registrar.Registrar) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	a, err := setup(ctx, setupOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, registrar.New(registrar.Options{Store: a.store, Logger: a.logger}))
}

// runSubscribe prints the structured result and fails the command when the
// result is a failure.
func runSubscribe(ctx context.Context, w io.Writer, reg *registrar.Registrar, args []string, subscribe bool) error {
	var res types.Result
	userID, err := parseID(args[0], "user-id")
	if err != nil {
		res = types.Result{Status: types.StatusFailed, Code: 400, Message: err.Error()}
	} else if subscribe {
		res, _ = reg.Subscribe(ctx, userID, args[1], args[2], args[3])
	} else {
		res, _ = reg.Unsubscribe(ctx, userID, args[1], args[2], args[3])
	}
	if err := printJSON(w, res); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%w: %s", errFailedResult, res.Message)
	}
	return nil
}
