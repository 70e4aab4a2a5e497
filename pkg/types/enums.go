package types

// AlertType defines the notifier sink type.
type AlertType string

// AlertType values enumerate the supported notifier backends.
const (
	AlertConsole AlertType = "console"
	AlertWebhook AlertType = "webhook"
	AlertSES     AlertType = "ses"
	AlertFile    AlertType = "file"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

// AlertLevel values.
const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)

// AlertCategory classifies what raised an alert.
type AlertCategory string

// AlertCategory values.
const (
	CategoryMetricSpike    AlertCategory = "metric_spike"
	CategoryRunningSlow    AlertCategory = "running_slow"
	CategoryDataStale      AlertCategory = "data_stale"
	CategoryFreshnessCheck AlertCategory = "freshness_check"
)

// ResultStatus is the outcome of an interactive registrar operation.
type ResultStatus string

// ResultStatus values. AlreadyTracking and NotTracking are successes.
const (
	StatusCreated         ResultStatus = "CREATED"
	StatusAlreadyTracking ResultStatus = "ALREADY_TRACKING"
	StatusRemoved         ResultStatus = "REMOVED"
	StatusNotTracking     ResultStatus = "NOT_TRACKING"
	StatusFailed          ResultStatus = "FAILED"
)

// FreshnessStatus is the outcome of one freshness probe.
type FreshnessStatus string

// FreshnessStatus values.
const (
	FreshnessNoSubscriptions FreshnessStatus = "NO_SUBSCRIPTIONS_OLD_ENOUGH"
	FreshnessFresh           FreshnessStatus = "FRESH"
	FreshnessStale           FreshnessStatus = "STALE"
	FreshnessUnknown         FreshnessStatus = "UNKNOWN"
)
