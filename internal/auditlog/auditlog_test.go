package auditlog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ruikei/internal/reconcile"
)

type memStore struct {
	mu      sync.Mutex
	fail    bool
	batches [][]reconcile.Notice
}

func (s *memStore) InsertAuditNotices(_ context.Context, notices []reconcile.Notice) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("database down")
	}
	s.batches = append(s.batches, notices)
	return int64(len(notices)), nil
}

func (s *memStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestBufferFlushesOnSize(t *testing.T) {
	store := &memStore{}
	buf := NewBuffer(store, testLogger(), 3, time.Hour)
	buf.Start(context.Background())

	for range 3 {
		buf.Record(context.Background(), reconcile.AuditTypeDefAdded.Notice("T", "g1", 1, "peer"))
	}
	assert.Eventually(t, func() bool { return store.total() == 3 }, 2*time.Second, 10*time.Millisecond)

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf.Drain(drainCtx)
}

func TestBufferDrainFlushesRemainder(t *testing.T) {
	store := &memStore{}
	buf := NewBuffer(store, testLogger(), 100, time.Hour)
	buf.Start(context.Background())

	buf.Record(context.Background(), reconcile.AuditReviewQueued.Notice("DeletedTypeDef", "peer", "T", "delete_typedef"))
	assert.Equal(t, 1, buf.Len())

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf.Drain(drainCtx)
	assert.Equal(t, 1, store.total())
	assert.Zero(t, buf.Len())
}

func TestBufferKeepsNoticesWhenFlushFails(t *testing.T) {
	store := &memStore{fail: true}
	buf := NewBuffer(store, testLogger(), 100, time.Hour)

	buf.Record(context.Background(), reconcile.AuditTypeDefAdded.Notice("T", "g1", 1, "peer"))
	buf.flush(context.Background())
	assert.Equal(t, 1, buf.Len(), "failed batch is put back")

	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()
	buf.flush(context.Background())
	assert.Zero(t, buf.Len())
	assert.Equal(t, 1, store.total())
}

func TestBufferDoubleStartIsNoop(t *testing.T) {
	buf := NewBuffer(&memStore{}, testLogger(), 100, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buf.Start(ctx)
	buf.Start(ctx)
	require.True(t, buf.started.Load())

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	buf.Drain(drainCtx)
}

func TestDrainWithoutStart(t *testing.T) {
	buf := NewBuffer(&memStore{}, testLogger(), 0, 0)
	buf.Drain(context.Background())
}

func TestLogSinkLevels(t *testing.T) {
	var out bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelWarn})))

	sink.Record(context.Background(), reconcile.AuditTypeDefAdded.Notice("T", "g1", 1, "peer"))
	assert.Empty(t, out.String(), "info notices are below warn")

	n := reconcile.AuditTypeDefConflict.Notice("T", "g2", 1, "peer", "T", "g1", 1)
	n.TypeName = "T"
	sink.Record(context.Background(), n)
	assert.Contains(t, out.String(), `"audit_code":"RUIKEI-RECON-0003"`)
	assert.Contains(t, out.String(), `"level":"WARN"`)
	assert.Contains(t, out.String(), `"type_name":"T"`)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &memStore{}, &memStore{}
	bufA := NewBuffer(a, testLogger(), 100, time.Hour)
	bufB := NewBuffer(b, testLogger(), 100, time.Hour)

	Multi{bufA, bufB}.Record(context.Background(), reconcile.AuditTypeDefAdded.Notice("T", "g1", 1, "peer"))
	assert.Equal(t, 1, bufA.Len())
	assert.Equal(t, 1, bufB.Len())
}
