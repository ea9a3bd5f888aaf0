package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/sitesmith/sitesmith/internal/session"
	"github.com/sitesmith/sitesmith/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t models.SessionType) *models.Session {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	projectID := "7d4a3f0e-6a1b-4c9f-8f2a-0f6c1d2e3a4b"
	return &models.Session{
		ID:          models.NewSessionID(t, now),
		ProjectID:   &projectID,
		Type:        t,
		Status:      models.StatusPending,
		Progress:    0,
		CurrentStep: "Queued",
		StartTime:   now,
		Changes: []models.ChangeRequest{
			{Path: "src/index.html", Description: "swap hero image"},
		},
	}
}

func TestCreateGet_RoundTrip(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	want := newSession(models.SessionTypeInit)
	want.RetryInfo = &models.RetryInfo{Attempt: 1, MaxRetries: 3, LastError: "tsc exit 2"}

	require.NoError(t, store.Create(ctx, want))

	got, err := store.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCreate_DuplicateID(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	sess := newSession(models.SessionTypeInit)
	require.NoError(t, store.Create(ctx, sess))

	err := store.Create(ctx, sess)
	assert.ErrorIs(t, err, session.ErrSessionExists)
}

func TestGet_Missing(t *testing.T) {
	store := session.NewMemoryStore()

	_, err := store.Get(context.Background(), "init_0000000000000_deadbeef")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestPut_OverwritesExisting(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	sess := newSession(models.SessionTypeDeployment)
	require.NoError(t, store.Create(ctx, sess))

	sess.Status = models.StatusDeploying
	sess.Progress = 90
	sess.CurrentStep = "Deploying site"
	require.NoError(t, store.Put(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeploying, got.Status)
	assert.Equal(t, 90, got.Progress)
}

func TestPut_MissingSessionFailsLoudly(t *testing.T) {
	store := session.NewMemoryStore()

	err := store.Put(context.Background(), newSession(models.SessionTypeInit))
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestPut_TerminalSessionRejected(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	sess := newSession(models.SessionTypeInit)
	require.NoError(t, store.Create(ctx, sess))

	end := sess.StartTime.Add(time.Minute)
	sess.Status = models.StatusCompleted
	sess.Progress = 100
	sess.EndTime = &end
	require.NoError(t, store.Put(ctx, sess))

	sess.Progress = 50
	err := store.Put(ctx, sess)
	assert.ErrorIs(t, err, session.ErrSessionFinalized)
}

func TestAppendLog_MissingSessionIsNoOp(t *testing.T) {
	store := session.NewMemoryStore()

	err := store.AppendLog(context.Background(), "gone", models.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     "info",
		Message:   "should not crash",
	})
	assert.NoError(t, err)
}

func TestAppendLog_TerminalSessionStillAccepts(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	sess := newSession(models.SessionTypeInit)
	require.NoError(t, store.Create(ctx, sess))
	sess.Status = models.StatusFailed
	require.NoError(t, store.Put(ctx, sess))

	err := store.AppendLog(ctx, sess.ID, models.LogEntry{Level: "info", Message: "post-mortem"})
	require.NoError(t, err)

	logs, err := store.Logs(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestLogs_OrderedAndCounted(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	sess := newSession(models.SessionTypeInit)
	require.NoError(t, store.Create(ctx, sess))

	for i, msg := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendLog(ctx, sess.ID, models.LogEntry{
			Timestamp: sess.StartTime.Add(time.Duration(i) * time.Second),
			Level:     "info",
			Message:   msg,
		}))
	}

	logs, err := store.Logs(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "third", logs[2].Message)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.LogCount)
}

func TestListByStatus(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	a := newSession(models.SessionTypeInit)
	b := newSession(models.SessionTypeDeployment)
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	b.Status = models.StatusDeploying
	require.NoError(t, store.Put(ctx, b))

	pending, err := store.ListByStatus(ctx, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}

func TestTTL_EphemeralSessionExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := session.NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	ephemeral := newSession(models.SessionTypeChangeRequest)
	durable := newSession(models.SessionTypeInit)
	require.NoError(t, store.Create(ctx, ephemeral))
	require.NoError(t, store.Create(ctx, durable))

	now = now.Add(2 * time.Hour)

	_, err := store.Get(ctx, ephemeral.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = store.Get(ctx, durable.ID)
	assert.NoError(t, err)
}

func TestDelete_RemovesSessionAndLogs(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	sess := newSession(models.SessionTypeInit)
	require.NoError(t, store.Create(ctx, sess))
	require.NoError(t, store.AppendLog(ctx, sess.ID, models.LogEntry{Message: "x"}))

	require.NoError(t, store.Delete(ctx, sess.ID))

	_, err := store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	logs, err := store.Logs(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSessionID_EncodesTypeAndTime(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	id := models.NewSessionID(models.SessionTypeDeployment, created)

	assert.Contains(t, id, "dep_")
	assert.Equal(t, created, models.SessionIDTime(id))
}
