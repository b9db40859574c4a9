package llm_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kiranshivaraju/shopmind/internal/llm"
	"github.com/kiranshivaraju/shopmind/internal/llm/mock"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []llm.AuditEntry
}

func (s *recordingSink) Record(e llm.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func TestWithAudit_RecordsWhenDebugOn(t *testing.T) {
	sink := &recordingSink{}
	debug := true
	p := llm.WithAudit(mock.NewScriptedProvider(`{"a":1}`), sink, func() bool { return debug })

	msgs := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	_, err := p.Call(context.Background(), msgs, models.CallOptions{})
	require.NoError(t, err)

	debug = false
	_, err = p.Call(context.Background(), msgs, models.CallOptions{})
	require.NoError(t, err)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "mock", sink.entries[0].Provider)
	assert.Equal(t, `{"a":1}`, sink.entries[0].Response)
	assert.Equal(t, msgs, sink.entries[0].Messages)
}

func TestWithAudit_RecordsErrors(t *testing.T) {
	sink := &recordingSink{}
	p := llm.WithAudit(mock.NewFailingProvider(errors.New("boom")), sink, func() bool { return true })

	_, err := p.Call(context.Background(), nil, models.CallOptions{Model: "m1"})
	require.Error(t, err)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "boom", sink.entries[0].Error)
	assert.Equal(t, "m1", sink.entries[0].Model)
}

func TestChannelSink_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var (
		mu      sync.Mutex
		written []llm.AuditEntry
	)
	sink := llm.NewChannelSink(1, func(e llm.AuditEntry) {
		<-release
		mu.Lock()
		written = append(written, e)
		mu.Unlock()
	})

	// One entry blocks in the writer, one fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		sink.Record(llm.AuditEntry{Provider: "p"})
	}
	close(release)
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(written), 1)
	assert.Equal(t, int64(10), int64(len(written))+sink.Dropped())

	sink.Record(llm.AuditEntry{})
	assert.Equal(t, int64(10-len(written)+1), sink.Dropped(), "records after close are dropped")
}
