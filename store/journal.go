package store

import (
	"context"
	"time"

	"github.com/K3das/sparkbridge/asr"
	"github.com/K3das/sparkbridge/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JournalStore is the part of Store the journal writes to.
type JournalStore interface {
	CreateSession(ctx context.Context, session RecognitionSession) error
	StopSession(ctx context.Context, id uuid.UUID, stoppedAt time.Time) error
	InsertEvent(ctx context.Context, event RecognitionEvent) error
}

type journalEntry func(ctx context.Context, s JournalStore) error

// Journal records sessions and relayed events without blocking the caller.
// Entries are written in order by Run; when the queue is full they are
// dropped.
type Journal struct {
	log   *zap.Logger
	store JournalStore
	now   func() time.Time

	queue chan journalEntry
}

type JournalExtraOptions func(*Journal)

func WithQueueSize(size int) JournalExtraOptions {
	return func(j *Journal) {
		j.queue = make(chan journalEntry, size)
	}
}

func WithClock(now func() time.Time) JournalExtraOptions {
	return func(j *Journal) {
		j.now = now
	}
}

func NewJournal(parentLogger *zap.Logger, s JournalStore, extraOptions ...JournalExtraOptions) *Journal {
	j := &Journal{
		log:   parentLogger.Named("journal"),
		store: s,
		now:   time.Now,
		queue: make(chan journalEntry, 256),
	}
	for _, option := range extraOptions {
		option(j)
	}
	return j
}

func (j *Journal) SessionStarted(key uuid.UUID, deviceID string, params asr.SessionParams) {
	session := RecognitionSession{
		ID:        key,
		DeviceID:  deviceID,
		Language:  params.Language,
		Domain:    params.Domain,
		Accent:    params.Accent,
		StartedAt: j.now(),
	}
	j.enqueue("session_started", func(ctx context.Context, s JournalStore) error {
		return s.CreateSession(ctx, session)
	})
}

func (j *Journal) SessionStopped(key uuid.UUID) {
	at := j.now()
	j.enqueue("session_stopped", func(ctx context.Context, s JournalStore) error {
		return s.StopSession(ctx, key, at)
	})
}

func (j *Journal) ResultReceived(key uuid.UUID, result asr.Result) {
	status := int(result.Status)
	event := RecognitionEvent{
		SessionID: key,
		Kind:      EventKindResult,
		Text:      result.Text,
		Status:    &status,
		VendorSID: result.SessionID,
		CreatedAt: j.now(),
	}
	j.enqueue("result", func(ctx context.Context, s JournalStore) error {
		return s.InsertEvent(ctx, event)
	})
}

func (j *Journal) ErrorReceived(key uuid.UUID, e asr.Error) {
	code := e.Code
	event := RecognitionEvent{
		SessionID: key,
		Kind:      EventKindError,
		Text:      e.Message,
		Code:      &code,
		VendorSID: e.SessionID,
		CreatedAt: j.now(),
	}
	j.enqueue("error", func(ctx context.Context, s JournalStore) error {
		return s.InsertEvent(ctx, event)
	})
}

func (j *Journal) enqueue(kind string, entry journalEntry) {
	select {
	case j.queue <- entry:
	default:
		j.log.With(zap.String("entry", kind)).Warn("journal queue full, dropping entry")
	}
}

// Run writes queued entries until ctx is done, then flushes what is left
// with a short grace period.
func (j *Journal) Run(ctx context.Context) error {
	defer utils.PanicRecovery(j.log)

	for {
		select {
		case entry := <-j.queue:
			j.write(ctx, entry)
		case <-ctx.Done():
			j.flush()
			return nil
		}
	}
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case entry := <-j.queue:
			j.write(ctx, entry)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, entry journalEntry) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := entry(writeCtx, j.store); err != nil {
		j.log.Warn("failed to write journal entry", zap.Error(err))
	}
}
