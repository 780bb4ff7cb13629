package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/K3das/sparkbridge/asr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]RecognitionSession
	events   []RecognitionEvent
	failNext bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[uuid.UUID]RecognitionSession{}}
}

func (m *memoryStore) CreateSession(ctx context.Context, session RecognitionSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("connection reset")
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *memoryStore) StopSession(ctx context.Context, id uuid.UUID, stoppedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok || session.StoppedAt != nil {
		return nil
	}
	session.StoppedAt = &stoppedAt
	m.sessions[id] = session
	return nil
}

func (m *memoryStore) InsertEvent(ctx context.Context, event RecognitionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func fixedClock() func() time.Time {
	var (
		mu  sync.Mutex
		now = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func runJournal(t *testing.T, j *Journal) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- j.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return cancel
}

func TestJournalRecordsSessionLifecycle(t *testing.T) {
	s := newMemoryStore()
	j := NewJournal(zaptest.NewLogger(t), s, WithClock(fixedClock()))

	key := uuid.New()
	j.SessionStarted(key, "device", asr.SessionParams{Language: "zh_cn", Domain: "slm", Accent: "mandarin"})
	j.ResultReceived(key, asr.Result{Text: "你好", Status: asr.ResultStatusEnd, SessionID: "sid"})
	j.ErrorReceived(key, asr.Error{Code: 10165, Message: "invalid handle", SessionID: "sid"})
	j.SessionStopped(key)
	j.SessionStopped(key)

	cancel := runJournal(t, j)
	cancel()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		session, ok := s.sessions[key]
		return ok && session.StoppedAt != nil && len(s.events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.sessions[key]
	assert.Equal(t, "device", session.DeviceID)
	assert.Equal(t, "slm", session.Domain)
	// only the first stop counts
	assert.Equal(t, session.StartedAt.Add(3*time.Second), *session.StoppedAt)

	require.Len(t, s.events, 2)
	assert.Equal(t, EventKindResult, s.events[0].Kind)
	assert.Equal(t, "你好", s.events[0].Text)
	require.NotNil(t, s.events[0].Status)
	assert.Equal(t, int(asr.ResultStatusEnd), *s.events[0].Status)
	assert.Nil(t, s.events[0].Code)

	assert.Equal(t, EventKindError, s.events[1].Kind)
	require.NotNil(t, s.events[1].Code)
	assert.Equal(t, 10165, *s.events[1].Code)
	assert.Equal(t, "sid", s.events[1].VendorSID)
}

func TestJournalSurvivesWriteFailure(t *testing.T) {
	s := newMemoryStore()
	s.failNext = true
	j := NewJournal(zaptest.NewLogger(t), s)
	runJournal(t, j)

	first, second := uuid.New(), uuid.New()
	j.SessionStarted(first, "device", asr.SessionParams{})
	j.SessionStarted(second, "device", asr.SessionParams{})

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.sessions[second]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.sessions, first)
}

func TestJournalDropsWhenFull(t *testing.T) {
	s := newMemoryStore()
	j := NewJournal(zaptest.NewLogger(t), s, WithQueueSize(1))

	key := uuid.New()
	// nothing drains the queue yet, so these never block
	j.SessionStarted(key, "device", asr.SessionParams{})
	j.ResultReceived(key, asr.Result{Text: "dropped"})
	j.ResultReceived(key, asr.Result{Text: "dropped"})

	assert.Len(t, j.queue, 1)
}
