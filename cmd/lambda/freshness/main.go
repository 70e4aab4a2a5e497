// freshness Lambda verifies that metric values are still arriving.
// Invoked by EventBridge on a regular interval (e.g. every 5 minutes).
package main

import (
	"context"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/metricwatch/internal/lambda"
	"github.com/dwsmith1983/metricwatch/internal/watchdog"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

func handler(ctx context.Context, _ intlambda.ScheduledEvent) (intlambda.FreshnessResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.FreshnessResponse{}, err
	}
	return handle(ctx, d), nil
}

func handle(ctx context.Context, d *intlambda.Deps) intlambda.FreshnessResponse {
	defer d.Flush(ctx)

	res := watchdog.CheckFreshness(ctx, d.CheckOptions())
	d.Logger.Info("freshness check complete", "status", res.Status, "alerted", res.Alerted)
	return intlambda.NewFreshnessResponse(res)
}

func main() {
	awslambda.Start(handler)
}
