package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/wire"
)

type batchSink struct {
	mu      sync.Mutex
	batches []domain.ResponseBatch
}

func (b *batchSink) Broadcast(_ context.Context, batch domain.ResponseBatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, batch)
	return nil
}

// kinds flattens the response kinds broadcast for session, checking batch numbering.
func (b *batchSink) kinds(t *testing.T, session string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	var seq uint64
	for _, batch := range b.batches {
		if batch.SessionID != session {
			continue
		}
		seq++
		assert.Equal(t, seq, batch.Seq)
		for _, r := range batch.Responses {
			out = append(out, r.Kind)
		}
	}
	return out
}

func envelopes(session string) []domain.RequestEnvelope {
	return []domain.RequestEnvelope{
		{SessionID: session, Kind: wire.KindCompound, Children: []domain.RequestEnvelope{
			{Kind: wire.KindSetProject, Project: &domain.Project{Name: "p"}},
			{Kind: "begin_browse_file", File: "a.spe"},
			{Kind: "browse_next_record"},
		}},
		{SessionID: session, Kind: "browse_next_record"},
		{SessionID: session, Kind: "end_browse_file"},
	}
}

func TestSessions_RelaysBatchesPerSession(t *testing.T) {
	eng := &fakeEngine{}
	sink := &batchSink{}
	s := NewSessions(eng, sink, time.Hour, nil, nil)
	defer s.Close()

	for _, id := range []string{"s1", "s2"} {
		for _, env := range envelopes(id) {
			require.NoError(t, s.Dispatch(env))
		}
	}
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int32(2), eng.created.Load())

	want := []string{wire.KindBeginAccessFile, wire.KindAccessRecord, wire.KindAccessRecord, wire.KindEndAccessFile}
	for _, id := range []string{"s1", "s2"} {
		require.Eventually(t, func() bool {
			return len(sink.kinds(t, id)) == len(want)
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, want, sink.kinds(t, id))
	}
}

func TestSessions_RejectsUndecodableEnvelope(t *testing.T) {
	s := NewSessions(&fakeEngine{}, &batchSink{}, time.Hour, nil, nil)
	defer s.Close()

	err := s.Dispatch(domain.RequestEnvelope{SessionID: "s1", Kind: "rewind"})
	assert.ErrorIs(t, err, wire.ErrUnknownKind)
	assert.Zero(t, s.Len())
}

func TestSessions_EngineFailure(t *testing.T) {
	s := NewSessions(&fakeEngine{err: errors.New("no licence")}, &batchSink{}, time.Hour, nil, nil)
	defer s.Close()

	err := s.Dispatch(envelopes("s1")[1])
	assert.ErrorContains(t, err, "no licence")
	assert.Zero(t, s.Len())
}

func TestSessions_ReapAndClose(t *testing.T) {
	eng := &fakeEngine{}
	s := NewSessions(eng, &batchSink{}, time.Minute, nil, nil)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Dispatch(envelopes("old")[1]))
	now = now.Add(2 * time.Minute)
	require.NoError(t, s.Dispatch(envelopes("new")[1]))

	s.Reap()
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int32(1), eng.destroyed.Load())

	s.Close()
	assert.Zero(t, s.Len())
	assert.Equal(t, int32(2), eng.destroyed.Load())
	assert.ErrorIs(t, s.Dispatch(envelopes("new")[1]), ErrClosed)
}
