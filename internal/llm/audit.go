package llm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/metrics"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// AuditEntry is one recorded LLM exchange.
type AuditEntry struct {
	Provider   string
	Model      string
	Messages   []models.Message
	Response   string
	Error      string
	TokensUsed int
	DurationMs int64
	At         time.Time
}

// AuditSink receives entries. Record must not block.
type AuditSink interface {
	Record(e AuditEntry)
}

// ChannelSink buffers entries and writes them from one goroutine.
// A full buffer drops the entry.
type ChannelSink struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan AuditEntry
	done    chan struct{}
	dropped atomic.Int64
}

func NewChannelSink(buffer int, write func(AuditEntry)) *ChannelSink {
	s := &ChannelSink{
		ch:   make(chan AuditEntry, buffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		for e := range s.ch {
			write(e)
		}
	}()
	return s
}

func (s *ChannelSink) Record(e AuditEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded.
func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting entries and waits for the buffer to drain.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
}

// SlogWriter writes entries as structured log lines.
func SlogWriter(e AuditEntry) {
	attrs := []any{
		"provider", e.Provider,
		"model", e.Model,
		"messages", e.Messages,
		"tokens_used", e.TokensUsed,
		"duration_ms", e.DurationMs,
	}
	if e.Error != "" {
		slog.Warn("llm audit", append(attrs, "error", e.Error)...)
		return
	}
	slog.Info("llm audit", append(attrs, "response", e.Response)...)
}

type audited struct {
	models.LLMProvider
	sink  AuditSink
	debug func() bool
}

// WithAudit records every call to sink while debug returns true, and always
// records call metrics.
func WithAudit(p models.LLMProvider, sink AuditSink, debug func() bool) models.LLMProvider {
	return &audited{LLMProvider: p, sink: sink, debug: debug}
}

func (a *audited) Call(ctx context.Context, messages []models.Message, opts models.CallOptions) (models.Completion, error) {
	start := time.Now()
	c, err := a.LLMProvider.Call(ctx, messages, opts)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveLLMCall(a.Name(), outcome, elapsed)

	if a.sink == nil || a.debug == nil || !a.debug() {
		return c, err
	}
	e := AuditEntry{
		Provider:   a.Name(),
		Model:      c.Model,
		Messages:   messages,
		Response:   c.Content,
		TokensUsed: c.TokensUsed,
		DurationMs: elapsed.Milliseconds(),
		At:         start.UTC(),
	}
	if e.Model == "" {
		e.Model = opts.Model
	}
	if err != nil {
		e.Error = err.Error()
	}
	a.sink.Record(e)
	return c, err
}
