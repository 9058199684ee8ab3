// Package notify publishes command status changes and workflow alarms to a
// pub/sub sink.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

const (
	ActionCommandStatus = "command-status"
	ActionSfnAlarm      = "sfn-alarm"
)

// Notification is the message sent to the sink.
type Notification struct {
	Action     string `json:"action"`
	ID         string `json:"id"`
	Table      string `json:"table"`
	PK         string `json:"pk"`
	SK         string `json:"sk"`
	TenantCode string `json:"tenantCode"`
	Content    any    `json:"content"`
}

// StatusContent is the content of a command-status notification.
type StatusContent struct {
	Status string `json:"status"`
	Source string `json:"source,omitempty"`
}

// AlarmContent is the content of an sfn-alarm notification.
type AlarmContent struct {
	StateName string `json:"stateName"`
	Error     string `json:"error"`
	Cause     string `json:"cause,omitempty"`
	Stack     string `json:"stack,omitempty"`
}

// Publisher sends notifications.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Encode renders n as the JSON message body.
func Encode(n Notification) (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	return string(b), nil
}

// LogPublisher writes notifications to a logger.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, n Notification) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"action", n.Action,
		"id", n.ID,
		"table", n.Table,
		"pk", n.PK,
		"sk", n.SK,
		"content", n.Content,
	)
	return nil
}

// Recorder keeps published notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Publish(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of everything published so far.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// ByAction returns the published notifications with the given action.
func (r *Recorder) ByAction(action string) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.Action == action {
			out = append(out, n)
		}
	}
	return out
}

// Multi fans a notification out to several publishers. The first error
// is returned after all publishers have been tried.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, n Notification) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
