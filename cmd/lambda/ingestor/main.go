// ingestor Lambda runs one ingestion pass over every tracked metric.
// Invoked by EventBridge at the configured cadence (e.g. every minute).
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/metricwatch/internal/lambda"
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

func handler(ctx context.Context, _ intlambda.ScheduledEvent) (intlambda.IngestResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.IngestResponse{}, err
	}
	return handle(ctx, d)
}

func handle(ctx context.Context, d *intlambda.Deps) (intlambda.IngestResponse, error) {
	defer d.Flush(ctx)

	sum, err := d.Ingestor().Run(ctx)
	if err != nil {
		return intlambda.IngestResponse{}, err
	}
	resp := intlambda.NewIngestResponse(sum)
	// Per-metric failures are reported, not retried: the next tick re-polls.
	// Housekeeping failures fail the invocation.
	if err := errors.Join(sum.UpkeepErr, sum.PruneErr); err != nil {
		return resp, fmt.Errorf("ingestor: housekeeping failed: %w", err)
	}
	return resp, nil
}

func main() {
	awslambda.Start(handler)
}
