// Package alert delivers notifier messages to one or more sinks.
package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// Message is one rendered notification. The alert fields are set only for
// messages sent through SendAlert.
type Message struct {
	AlertID         string                 `json:"alertId,omitempty"`
	Level           types.AlertLevel       `json:"level,omitempty"`
	Category        types.AlertCategory    `json:"alertType,omitempty"`
	TrackedMetricID int64                  `json:"trackedMetricId,omitempty"`
	Subject         string                 `json:"subject"`
	Body            string                 `json:"body"`
	Details         map[string]interface{} `json:"details,omitempty"`
	Recipient       string                 `json:"recipient"`
	From            string                 `json:"from,omitempty"`
	SentAt          time.Time              `json:"sentAt"`
}

// Notifier delivers a message to a recipient.
type Notifier interface {
	Send(ctx context.Context, subject, body, recipient string) error
}

// AlertSender is implemented by notifiers that forward structured alert
// fields to their sinks.
type AlertSender interface {
	SendAlert(ctx context.Context, a types.Alert, recipient string) error
}

// Deliver sends a through n, keeping its structured fields when n supports
// them and falling back to subject and body otherwise.
func Deliver(ctx context.Context, n Notifier, a types.Alert, recipient string) error {
	if s, ok := n.(AlertSender); ok {
		return s.SendAlert(ctx, a, recipient)
	}
	return n.Send(ctx, a.Subject, a.Message, recipient)
}

// Sink is a message destination.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Dispatcher fans a message out to every configured sink. It satisfies Notifier.
type Dispatcher struct {
	sinks  []Sink
	from   string
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ Notifier    = (*Dispatcher)(nil)
	_ AlertSender = (*Dispatcher)(nil)
)

// Option configures a Dispatcher.
type Option func(*dispatcherOptions)

type dispatcherOptions struct {
	logger    *slog.Logger
	sesClient SESAPI
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *dispatcherOptions) { o.logger = l }
}

// WithSES supplies the SES client used by ses sinks.
func WithSES(c SESAPI) Option {
	return func(o *dispatcherOptions) { o.sesClient = c }
}

// NewDispatcher creates a dispatcher from alert config. With no sinks
// configured, messages go to the console.
func NewDispatcher(ctx context.Context, cfg types.AlertsConfig, opts ...Option) (*Dispatcher, error) {
	o := dispatcherOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	from := cfg.From
	if from == "" {
		from = types.DefaultAlertFrom
	}

	d := &Dispatcher{from: from, logger: o.logger, now: time.Now}
	sinkCfgs := cfg.Sinks
	if len(sinkCfgs) == 0 {
		sinkCfgs = []types.AlertSinkConfig{{Type: types.AlertConsole}}
	}
	for _, sc := range sinkCfgs {
		sink, err := newSink(ctx, sc, o)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", sc.Type, err)
		}
		d.sinks = append(d.sinks, sink)
	}
	return d, nil
}

// NewDispatcherWithSinks creates a dispatcher over explicit sinks.
func NewDispatcherWithSinks(from string, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, from: from, logger: logger, now: time.Now}
}

// Send delivers to every sink. A failing sink is logged and does not stop
// the others; the joined sink errors are returned.
func (d *Dispatcher) Send(ctx context.Context, subject, body, recipient string) error {
	return d.deliver(ctx, Message{Subject: subject, Body: body, Recipient: recipient})
}

// SendAlert delivers a with its id, level, category and details attached.
func (d *Dispatcher) SendAlert(ctx context.Context, a types.Alert, recipient string) error {
	return d.deliver(ctx, Message{
		AlertID:         a.AlertID,
		Level:           a.Level,
		Category:        a.Category,
		TrackedMetricID: a.TrackedMetricID,
		Subject:         a.Subject,
		Body:            a.Message,
		Details:         a.Details,
		Recipient:       recipient,
	})
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	msg.From = d.from
	msg.SentAt = d.now().UTC()
	recipient := msg.Recipient
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, msg); err != nil {
			d.logger.Warn("alert: sink failed", "sink", sink.Name(), "recipient", recipient, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases sinks that hold resources.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, sink := range d.sinks {
		if c, ok := sink.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

func newSink(ctx context.Context, cfg types.AlertSinkConfig, o dispatcherOptions) (Sink, error) {
	switch cfg.Type {
	case types.AlertConsole:
		return NewConsoleSink(), nil
	case types.AlertWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.AlertFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.AlertSES:
		var sesOpts []SESSinkOption
		if o.sesClient != nil {
			sesOpts = append(sesOpts, WithSESClient(o.sesClient))
		}
		return NewSESSink(ctx, cfg.Region, sesOpts...)
	default:
		return nil, fmt.Errorf("unknown alert type %q", cfg.Type)
	}
}
