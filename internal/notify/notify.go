// Package notify delivers operator alerts without blocking the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Level   Level
	Subject string
	Body    string
	Fields  map[string]any
	At      time.Time
}

// Notifier accepts alerts. Notify must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, a Alert)
}

// Target is a delivery channel driven by Fanout.
type Target interface {
	Deliver(ctx context.Context, a Alert) error
}

// Fanout queues alerts and delivers each to every target from one goroutine.
// A full queue drops the alert.
type Fanout struct {
	targets []Target
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	ch      chan Alert
	done    chan struct{}
	dropped atomic.Int64
}

// NewFanout starts the delivery goroutine. timeout bounds each delivery.
func NewFanout(buffer int, timeout time.Duration, targets ...Target) *Fanout {
	f := &Fanout{
		targets: targets,
		timeout: timeout,
		ch:      make(chan Alert, buffer),
		done:    make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Fanout) Notify(_ context.Context, a Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.dropped.Add(1)
		return
	}
	select {
	case f.ch <- a:
	default:
		f.dropped.Add(1)
		slog.Warn("alert dropped, queue full", "subject", a.Subject)
	}
}

// Dropped returns how many alerts were discarded.
func (f *Fanout) Dropped() int64 { return f.dropped.Load() }

// Close stops accepting alerts and waits for queued ones to be delivered.
func (f *Fanout) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	f.mu.Unlock()
	<-f.done
}

func (f *Fanout) run() {
	defer close(f.done)
	for a := range f.ch {
		for _, t := range f.targets {
			f.deliver(t, a)
		}
	}
}

func (f *Fanout) deliver(t Target, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("alert target panicked", "subject", a.Subject, "panic", r)
		}
	}()
	ctx := context.Background()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	if err := t.Deliver(ctx, a); err != nil {
		slog.Warn("alert delivery failed", "subject", a.Subject, "target", fmt.Sprintf("%T", t), "error", err)
	}
}

// LogTarget writes alerts to the default logger.
type LogTarget struct{}

func (LogTarget) Deliver(_ context.Context, a Alert) error {
	attrs := []any{"subject", a.Subject, "body", a.Body}
	for _, k := range sortedKeys(a.Fields) {
		attrs = append(attrs, k, a.Fields[k])
	}
	switch a.Level {
	case LevelCritical:
		slog.Error("alert", attrs...)
	case LevelWarning:
		slog.Warn("alert", attrs...)
	default:
		slog.Info("alert", attrs...)
	}
	return nil
}

// EmailSender is satisfied by *mailer.Sender.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailTarget mails alerts at or above MinLevel to one address.
type EmailTarget struct {
	Sender   EmailSender
	To       string
	MinLevel Level
}

func (t EmailTarget) Deliver(ctx context.Context, a Alert) error {
	if t.To == "" || rank(a.Level) < rank(t.MinLevel) {
		return nil
	}
	return t.Sender.Send(ctx, t.To, fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Level)), a.Subject), renderBody(a))
}

func renderBody(a Alert) string {
	var b strings.Builder
	b.WriteString(a.Body)
	if len(a.Fields) > 0 {
		b.WriteString("\n\n")
		for _, k := range sortedKeys(a.Fields) {
			fmt.Fprintf(&b, "%s: %v\n", k, a.Fields[k])
		}
	}
	fmt.Fprintf(&b, "\nSent %s\n", a.At.Format(time.RFC3339))
	return b.String()
}

func rank(l Level) int {
	switch l {
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Discard drops every alert.
type Discard struct{}

func (Discard) Notify(context.Context, Alert) {}
