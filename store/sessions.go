package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrSessionNotFound = fmt.Errorf("recognition session not found")

type EventKind string

const (
	EventKindResult = EventKind("result")
	EventKindError  = EventKind("error")
)

type RecognitionSession struct {
	ID        uuid.UUID
	DeviceID  string
	Language  string
	Domain    string
	Accent    string
	StartedAt time.Time
	StoppedAt *time.Time
}

type RecognitionEvent struct {
	ID        int64
	SessionID uuid.UUID
	Kind      EventKind
	Text      string
	// Status is set for results, Code for errors
	Status    *int
	Code      *int
	VendorSID string
	CreatedAt time.Time
}

func (s *Store) CreateSession(ctx context.Context, session RecognitionSession) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO recognition_sessions (id, device_id, language, domain, accent, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		session.ID, session.DeviceID, session.Language, session.Domain, session.Accent, session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// StopSession records the first stop of a session; later stops are ignored.
func (s *Store) StopSession(ctx context.Context, id uuid.UUID, stoppedAt time.Time) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE recognition_sessions SET stopped_at = $2
		WHERE id = $1 AND stopped_at IS NULL`,
		id, stoppedAt,
	)
	if err != nil {
		return fmt.Errorf("stopping session: %w", err)
	}
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, event RecognitionEvent) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO recognition_events (session_id, kind, text, status, code, vendor_sid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.SessionID, string(event.Kind), event.Text, event.Status, event.Code, event.VendorSID, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*RecognitionSession, error) {
	var session RecognitionSession
	err := s.conn.QueryRow(ctx, `
		SELECT id, device_id, language, domain, accent, started_at, stopped_at
		FROM recognition_sessions WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.DeviceID, &session.Language, &session.Domain, &session.Accent, &session.StartedAt, &session.StoppedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &session, nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID uuid.UUID) ([]RecognitionEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, session_id, kind, text, status, code, vendor_sid, created_at
		FROM recognition_events WHERE session_id = $1
		ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RecognitionEvent, error) {
		var (
			event RecognitionEvent
			kind  string
		)
		err := row.Scan(&event.ID, &event.SessionID, &kind, &event.Text, &event.Status, &event.Code, &event.VendorSID, &event.CreatedAt)
		event.Kind = EventKind(kind)
		return event, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning events: %w", err)
	}
	return events, nil
}
