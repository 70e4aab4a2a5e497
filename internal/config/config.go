// Package config handles loading and validation of metricwatch.yaml project configuration.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// FileName is the project config file looked up by Load.
const FileName = "metricwatch.yaml"

// DefaultMarketDataURL is the public market-data API.
const DefaultMarketDataURL = "https://api.cryptowat.ch"

// Environment overrides.
const (
	EnvDSN       = "METRICWATCH_DSN"
	EnvRedisAddr = "METRICWATCH_REDIS_ADDR"
	EnvOpsEmail  = "METRICWATCH_OPS_EMAIL"
)

// Defaults returns a config with every tunable at its default value.
func Defaults() types.ProjectConfig {
	return types.ProjectConfig{
		MarketData: types.MarketDataConfig{
			BaseURL: DefaultMarketDataURL,
			Workers: types.DefaultMarketDataWorkers,
		},
		Pipeline: types.PipelineConfig{
			CadencePerMinute:         types.DefaultCadencePerMinute,
			LookbackHours:            types.DefaultLookbackHours,
			AlertLookbackHours:       types.DefaultAlertLookbackHours,
			AlertFactor:              types.DefaultAlertFactor,
			MissingDataTolerance:     types.DefaultMissingDataTolerance,
			FreshnessThresholdFactor: types.DefaultFreshnessThreshold,
			SlownessFraction:         types.DefaultSlownessFraction,
		},
		Alerts: types.AlertsConfig{From: types.DefaultAlertFrom},
		Log:    types.LogConfig{Level: "info"},
	}
}

// Load reads and parses metricwatch.yaml from the given directory, applies
// environment overrides and validates the result.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Keys absent from data keep their
// default values.
func Parse(data []byte) (*types.ProjectConfig, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides connection settings from the environment.
func ApplyEnv(cfg *types.ProjectConfig, getenv func(string) string) {
	if v := getenv(EnvDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := getenv(EnvRedisAddr); v != "" {
		if cfg.Redis == nil {
			cfg.Redis = &types.RedisConfig{}
		}
		cfg.Redis.Addr = v
	}
	if v := getenv(EnvOpsEmail); v != "" {
		cfg.Alerts.OpsEmail = v
	}
}

// Validate checks a config built outside Load.
func Validate(cfg *types.ProjectConfig) error {
	return validate(cfg)
}

func validate(cfg *types.ProjectConfig) error {
	if cfg.Database.DSN == "" && cfg.Database.SecretARN == "" {
		return fmt.Errorf("database.dsn or database.secretArn is required")
	}
	if err := checkDuration("database.timeout", cfg.Database.Timeout); err != nil {
		return err
	}
	if cfg.Redis != nil && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is configured")
	}

	md := cfg.MarketData
	if md.BaseURL == "" {
		return fmt.Errorf("marketData.baseURL is required")
	}
	if u, err := url.Parse(md.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("marketData.baseURL %q is not an absolute URL", md.BaseURL)
	}
	if err := checkDuration("marketData.timeout", md.Timeout); err != nil {
		return err
	}
	if md.Workers < 0 {
		return fmt.Errorf("marketData.workers must not be negative")
	}

	p := cfg.Pipeline
	switch {
	case p.CadencePerMinute <= 0:
		return fmt.Errorf("pipeline.cadencePerMinute must be positive")
	case p.LookbackHours <= 0:
		return fmt.Errorf("pipeline.lookbackHours must be positive")
	case p.AlertLookbackHours <= 0:
		return fmt.Errorf("pipeline.alertLookbackHours must be positive")
	case p.AlertLookbackHours > p.LookbackHours:
		return fmt.Errorf("pipeline.alertLookbackHours (%g) exceeds lookbackHours (%g)", p.AlertLookbackHours, p.LookbackHours)
	case p.AlertFactor <= 0:
		return fmt.Errorf("pipeline.alertFactor must be positive")
	case p.MissingDataTolerance < 0 || p.MissingDataTolerance > 1:
		return fmt.Errorf("pipeline.missingDataTolerance must be between 0 and 1")
	case p.FreshnessThresholdFactor <= 0:
		return fmt.Errorf("pipeline.freshnessThresholdFactor must be positive")
	case p.SlownessFraction <= 0:
		return fmt.Errorf("pipeline.slownessFraction must be positive")
	}
	if err := checkDuration("pipeline.freshnessGracePeriod", p.FreshnessGracePeriod); err != nil {
		return err
	}
	if err := checkDuration("pipeline.freshnessCheckInterval", p.FreshnessCheckInterval); err != nil {
		return err
	}

	for i, s := range cfg.Alerts.Sinks {
		switch s.Type {
		case types.AlertConsole, types.AlertSES:
		case types.AlertWebhook:
			if s.URL == "" {
				return fmt.Errorf("alerts.sinks[%d]: webhook url is required", i)
			}
		case types.AlertFile:
			if s.Path == "" {
				return fmt.Errorf("alerts.sinks[%d]: file path is required", i)
			}
		default:
			return fmt.Errorf("alerts.sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

func checkDuration(field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}

// SecretsAPI is the subset of the Secrets Manager client used to resolve DSNs.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveDSN returns the database DSN, fetching it from Secrets Manager when
// only a secret ARN is configured. A nil client loads the default AWS config.
func ResolveDSN(ctx context.Context, db types.DatabaseConfig, client SecretsAPI) (string, error) {
	if db.DSN != "" {
		return db.DSN, nil
	}
	if db.SecretARN == "" {
		return "", fmt.Errorf("no database DSN or secret configured")
	}
	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return "", fmt.Errorf("loading AWS config: %w", err)
		}
		client = secretsmanager.NewFromConfig(awsCfg)
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(db.SecretARN)})
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", db.SecretARN, err)
	}
	secret := strings.TrimSpace(aws.ToString(out.SecretString))
	if secret == "" {
		return "", fmt.Errorf("secret %s has no string value", db.SecretARN)
	}
	return dsnFromSecret(secret)
}

// rdsSecret is the JSON shape of an RDS-managed credential secret.
type rdsSecret struct {
	DSN      string      `json:"dsn"`
	Username string      `json:"username"`
	Password string      `json:"password"`
	Host     string      `json:"host"`
	Port     json.Number `json:"port"`
	DBName   string      `json:"dbname"`
}

// dsnFromSecret accepts either a plain DSN or an RDS-style JSON secret.
func dsnFromSecret(secret string) (string, error) {
	if !strings.HasPrefix(secret, "{") {
		return secret, nil
	}
	var s rdsSecret
	if err := json.Unmarshal([]byte(secret), &s); err != nil {
		return "", fmt.Errorf("parsing database secret: %w", err)
	}
	if s.DSN != "" {
		return s.DSN, nil
	}
	if s.Host == "" || s.Username == "" {
		return "", fmt.Errorf("database secret needs either dsn or host and username")
	}
	host := s.Host
	if s.Port != "" {
		host += ":" + s.Port.String()
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(s.Username, s.Password),
		Host:   host,
		Path:   "/" + s.DBName,
	}
	return u.String(), nil
}
