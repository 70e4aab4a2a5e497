package main

// StackConfig holds configuration for the metricwatch CDK stack.
type StackConfig struct {
	Name             string
	MemorySize       float64
	IngestTimeout    float64
	FreshnessTimeout float64
	LambdaDistDir    string
	LogRetentionDays float64

	// DatabaseSecretARN names an existing Secrets Manager secret holding the
	// Postgres DSN or RDS credentials.
	DatabaseSecretARN string
	OpsEmail          string
	AlertFrom         string
	RedisAddr         string
	OTLPEndpoint      string

	// Schedules use EventBridge rate expressions, e.g. "1 minute".
	IngestRate    string
	FreshnessRate string
}

// DefaultConfig returns a StackConfig with sensible defaults.
func DefaultConfig() StackConfig {
	return StackConfig{
		Name:             "metricwatch",
		MemorySize:       256,
		IngestTimeout:    55,
		FreshnessTimeout: 30,
		LambdaDistDir:    "../dist/lambda",
		LogRetentionDays: 7,
		AlertFrom:        "bot@crypto-data-tracker.com",
		IngestRate:       "1 minute",
		FreshnessRate:    "5 minutes",
	}
}
