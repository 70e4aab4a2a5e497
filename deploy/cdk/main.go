package main

import (
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"
)

func main() {
	defer jsii.Close()

	app := awscdk.NewApp(nil)
	cfg := DefaultConfig()

	for env, dst := range map[string]*string{
		"METRICWATCH_DATABASE_SECRET_ARN": &cfg.DatabaseSecretARN,
		"METRICWATCH_OPS_EMAIL":           &cfg.OpsEmail,
		"METRICWATCH_ALERT_FROM":          &cfg.AlertFrom,
		"METRICWATCH_REDIS_ADDR":          &cfg.RedisAddr,
		"METRICWATCH_OTLP_ENDPOINT":       &cfg.OTLPEndpoint,
		"METRICWATCH_INGEST_RATE":         &cfg.IngestRate,
		"METRICWATCH_FRESHNESS_RATE":      &cfg.FreshnessRate,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	stackName := "MetricwatchStack"
	if name := os.Getenv("METRICWATCH_STACK_NAME"); name != "" {
		stackName = name
	}

	NewMetricwatchStack(app, stackName, cfg)
	app.Synth(nil)
}
