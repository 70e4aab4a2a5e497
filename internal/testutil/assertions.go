package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// Message is one notifier delivery captured by RecordingNotifier.
type Message struct {
	Subject   string
	Body      string
	Recipient string
	Alert     *types.Alert // set for SendAlert deliveries
}

// RecordingNotifier captures every Send call. Err, when set, is returned from
// Send after the message is recorded.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

// Send records the message.
func (n *RecordingNotifier) Send(_ context.Context, subject, body, recipient string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, Message{Subject: subject, Body: body, Recipient: recipient})
	return n.Err
}

// SendAlert records the alert along with its rendered subject and body.
func (n *RecordingNotifier) SendAlert(_ context.Context, a types.Alert, recipient string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, Message{Subject: a.Subject, Body: a.Message, Recipient: recipient, Alert: &a})
	return n.Err
}

// Messages returns a copy of the recorded messages.
func (n *RecordingNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}
