package types

import "time"

// Defaults applied when the corresponding config value is omitted.
const (
	DefaultStatementTimeout       = 5 * time.Second
	DefaultMarketDataTimeout      = 10 * time.Second
	DefaultMarketDataWorkers      = 8
	DefaultCadencePerMinute       = 1.0
	DefaultLookbackHours          = 168.0
	DefaultAlertLookbackHours     = 1.0
	DefaultAlertFactor            = 3.0
	DefaultMissingDataTolerance   = 0.1
	DefaultFreshnessGracePeriod   = 10 * time.Minute
	DefaultFreshnessThreshold     = 3.0
	DefaultSlownessFraction       = 0.5
	DefaultFreshnessCheckInterval = 5 * time.Minute
	DefaultAlertFrom              = "bot@crypto-data-tracker.com"
)

// ProjectConfig represents the top-level metricwatch.yaml configuration.
type ProjectConfig struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      *RedisConfig     `yaml:"redis,omitempty"`
	MarketData MarketDataConfig `yaml:"marketData"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Telemetry  *TelemetryConfig `yaml:"telemetry,omitempty"`
	Log        LogConfig        `yaml:"log"`
}

// DatabaseConfig holds Postgres connection settings. SecretARN, when set,
// names a Secrets Manager secret whose string value is the DSN.
type DatabaseConfig struct {
	DSN       string `yaml:"dsn,omitempty"`
	SecretARN string `yaml:"secretArn,omitempty"`
	Timeout   string `yaml:"timeout,omitempty"` // per-statement, e.g. "5s"
	MaxConns  int32  `yaml:"maxConns,omitempty"`
	MinConns  int32  `yaml:"minConns,omitempty"`
}

// StatementTimeout returns the per-statement timeout.
func (c DatabaseConfig) StatementTimeout() time.Duration {
	return parseDurationOr(c.Timeout, DefaultStatementTimeout)
}

// RedisConfig holds Redis/Valkey connection settings for alert dedup locks.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// MarketDataConfig configures the external market summary API client.
type MarketDataConfig struct {
	BaseURL string `yaml:"baseURL"`
	Timeout string `yaml:"timeout,omitempty"`
	Workers int    `yaml:"workers,omitempty"`
}

// FetchTimeout returns the per-request timeout.
func (c MarketDataConfig) FetchTimeout() time.Duration {
	return parseDurationOr(c.Timeout, DefaultMarketDataTimeout)
}

// PipelineConfig holds ingestion, alerting and freshness tuning.
type PipelineConfig struct {
	CadencePerMinute         float64 `yaml:"cadencePerMinute"`
	LookbackHours            float64 `yaml:"lookbackHours"`
	AlertLookbackHours       float64 `yaml:"alertLookbackHours"`
	AlertFactor              float64 `yaml:"alertFactor"`
	MissingDataTolerance     float64 `yaml:"missingDataTolerance"`
	FreshnessGracePeriod     string  `yaml:"freshnessGracePeriod,omitempty"`
	FreshnessThresholdFactor float64 `yaml:"freshnessThresholdFactor"`
	FreshnessCheckInterval   string  `yaml:"freshnessCheckInterval,omitempty"`
	SlownessFraction         float64 `yaml:"slownessFraction"`
}

// WithDefaults returns c with zero values replaced by defaults.
func (c PipelineConfig) WithDefaults() PipelineConfig {
	if c.CadencePerMinute <= 0 {
		c.CadencePerMinute = DefaultCadencePerMinute
	}
	if c.LookbackHours <= 0 {
		c.LookbackHours = DefaultLookbackHours
	}
	if c.AlertLookbackHours <= 0 {
		c.AlertLookbackHours = DefaultAlertLookbackHours
	}
	if c.AlertFactor <= 0 {
		c.AlertFactor = DefaultAlertFactor
	}
	if c.FreshnessThresholdFactor <= 0 {
		c.FreshnessThresholdFactor = DefaultFreshnessThreshold
	}
	if c.SlownessFraction <= 0 {
		c.SlownessFraction = DefaultSlownessFraction
	}
	return c
}

// GracePeriod returns how old a subscription must be before its data is judged.
func (c PipelineConfig) GracePeriod() time.Duration {
	return parseDurationOr(c.FreshnessGracePeriod, DefaultFreshnessGracePeriod)
}

// CheckInterval returns the freshness polling interval for the long-running daemon.
func (c PipelineConfig) CheckInterval() time.Duration {
	return parseDurationOr(c.FreshnessCheckInterval, DefaultFreshnessCheckInterval)
}

// Lookback returns the history retention window.
func (c PipelineConfig) Lookback() time.Duration {
	return hours(c.LookbackHours)
}

// AlertLookback returns the trailing window used to compute the alert mean.
func (c PipelineConfig) AlertLookback() time.Duration {
	return hours(c.AlertLookbackHours)
}

// AlertsConfig configures who receives alerts and through which sinks.
type AlertsConfig struct {
	From     string            `yaml:"from,omitempty"`
	OpsEmail string            `yaml:"opsEmail"`
	Sinks    []AlertSinkConfig `yaml:"sinks,omitempty"`
}

// AlertSinkConfig defines one notifier sink.
type AlertSinkConfig struct {
	Type   AlertType `yaml:"type" json:"type"`
	URL    string    `yaml:"url,omitempty" json:"url,omitempty"`
	Region string    `yaml:"region,omitempty" json:"region,omitempty"`
	Path   string    `yaml:"path,omitempty" json:"path,omitempty"`
}

// TelemetryConfig enables OTLP export of traces and metrics.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	Insecure     bool   `yaml:"insecure,omitempty"`
	ServiceName  string `yaml:"serviceName,omitempty"`
}

// LogConfig controls the logger backend.
type LogConfig struct {
	Level      string `yaml:"level,omitempty"`
	Production bool   `yaml:"production,omitempty"`
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
