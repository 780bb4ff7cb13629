package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testDSNEnvKey = "SPARKBRIDGE_TEST_POSTGRES_DSN"

func connectTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(testDSNEnvKey)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnvKey)
	}

	s := NewStore(context.Background(), zaptest.NewLogger(t))
	require.NoError(t, s.Connect(context.Background(), dsn))
	t.Cleanup(s.Close)
	return s
}

func TestStoreSessionRoundTrip(t *testing.T) {
	s := connectTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	session := RecognitionSession{
		ID:        uuid.New(),
		DeviceID:  "device",
		Language:  "zh_cn",
		Domain:    "slm",
		Accent:    "mandarin",
		StartedAt: started,
	}
	require.NoError(t, s.CreateSession(ctx, session))

	status := 2
	require.NoError(t, s.InsertEvent(ctx, RecognitionEvent{
		SessionID: session.ID,
		Kind:      EventKindResult,
		Text:      "你好",
		Status:    &status,
		VendorSID: "sid",
		CreatedAt: started.Add(time.Second),
	}))

	stopped := started.Add(2 * time.Second)
	require.NoError(t, s.StopSession(ctx, session.ID, stopped))
	require.NoError(t, s.StopSession(ctx, session.ID, stopped.Add(time.Hour)))

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "device", got.DeviceID)
	require.NotNil(t, got.StoppedAt)
	assert.True(t, stopped.Equal(*got.StoppedAt))

	events, err := s.ListEvents(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "你好", events[0].Text)
	require.NotNil(t, events[0].Status)
	assert.Equal(t, 2, *events[0].Status)
	assert.Nil(t, events[0].Code)
}

func TestStoreMissingSession(t *testing.T) {
	s := connectTestStore(t)

	_, err := s.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
