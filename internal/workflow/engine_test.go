package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesmith/sitesmith/internal/session"
	"github.com/sitesmith/sitesmith/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingStore wraps a session store and captures every status/progress
// pair written through Put, in order.
type recordingStore struct {
	session.Store
	mu       sync.Mutex
	statuses []models.SessionStatus
	progress []int
}

func (r *recordingStore) Put(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, s.Status)
	r.progress = append(r.progress, s.Progress)
	r.mu.Unlock()
	return r.Store.Put(ctx, s)
}

type fakePhase struct {
	name     string
	status   models.SessionStatus
	progress int
	run      func(wc Context) (Context, error)
}

func (p *fakePhase) Name() string                 { return p.name }
func (p *fakePhase) Status() models.SessionStatus { return p.status }
func (p *fakePhase) Progress() int                { return p.progress }

func (p *fakePhase) Run(_ context.Context, wc Context) (Context, error) {
	if p.run != nil {
		return p.run(wc)
	}
	return wc, nil
}

func newTestSession(t *testing.T, store session.Store) *models.Session {
	t.Helper()
	sess := &models.Session{
		ID:        models.NewSessionID(models.SessionTypeTest, time.Now()),
		Type:      models.SessionTypeTest,
		Status:    models.StatusPending,
		StartTime: time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), sess))
	return sess
}

func TestExecute_RunsPhasesInOrder(t *testing.T) {
	store := &recordingStore{Store: session.NewMemoryStore()}
	sess := newTestSession(t, store)

	var ran []string
	phases := []Phase{
		&fakePhase{name: "one", status: models.StatusInitializing, progress: 10,
			run: func(wc Context) (Context, error) { ran = append(ran, "one"); return wc, nil }},
		&fakePhase{name: "two", status: models.StatusSettingUpInfra, progress: 80,
			run: func(wc Context) (Context, error) { ran = append(ran, "two"); return wc, nil }},
		&fakePhase{name: "three", status: models.StatusDeploying, progress: 100,
			run: func(wc Context) (Context, error) { ran = append(ran, "three"); return wc, nil }},
	}

	engine := NewEngine(store, testLogger())
	_, err := engine.Execute(context.Background(), sess.ID, Context{SessionID: sess.ID}, phases)
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two", "three"}, ran)

	final, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.EndTime)
	assert.False(t, final.EndTime.Before(final.StartTime))
}

func TestExecute_ProgressNeverDecreasesAndHits100OnlyAtCompletion(t *testing.T) {
	store := &recordingStore{Store: session.NewMemoryStore()}
	sess := newTestSession(t, store)

	phases := []Phase{
		&fakePhase{name: "one", status: models.StatusInitializing, progress: 10},
		&fakePhase{name: "two", status: models.StatusSettingUpInfra, progress: 80},
		&fakePhase{name: "three", status: models.StatusDeploying, progress: 100},
	}

	engine := NewEngine(store, testLogger())
	_, err := engine.Execute(context.Background(), sess.ID, Context{SessionID: sess.ID}, phases)
	require.NoError(t, err)

	last := 0
	for i, p := range store.progress {
		assert.GreaterOrEqual(t, p, last, "progress decreased at write %d", i)
		if p == 100 {
			assert.Equal(t, models.StatusCompleted, store.statuses[i], "100%% reported on non-terminal status")
		}
		last = p
	}
}

func TestExecute_PhaseFailureMarksSessionFailed(t *testing.T) {
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	boom := errors.New("site creation refused")
	phases := []Phase{
		&fakePhase{name: "one", status: models.StatusInitializing, progress: 10},
		&fakePhase{name: "two", status: models.StatusSettingUpInfra, progress: 80,
			run: func(wc Context) (Context, error) { return wc, boom }},
		&fakePhase{name: "never", status: models.StatusDeploying, progress: 100,
			run: func(wc Context) (Context, error) {
				t.Fatal("phase after failure must not run")
				return wc, nil
			}},
	}

	engine := NewEngine(store, testLogger())
	_, err := engine.Execute(context.Background(), sess.ID, Context{SessionID: sess.ID}, phases)
	assert.ErrorIs(t, err, boom)

	final, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "site creation refused")
	require.NotNil(t, final.EndTime)
	assert.False(t, final.EndTime.Before(final.StartTime))
	assert.Less(t, final.Progress, 100)
}

func TestExecute_CancellationObservedAtCheckpoint(t *testing.T) {
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	phases := []Phase{
		&fakePhase{name: "one", status: models.StatusInitializing, progress: 10,
			run: func(wc Context) (Context, error) {
				// cancelled mid-phase; the phase still completes
				s, err := store.Get(context.Background(), sess.ID)
				require.NoError(t, err)
				now := time.Now().UTC()
				s.Status = models.StatusCancelled
				s.EndTime = &now
				require.NoError(t, store.Put(context.Background(), s))
				return wc, nil
			}},
		&fakePhase{name: "never", status: models.StatusSettingUpInfra, progress: 80,
			run: func(wc Context) (Context, error) {
				t.Fatal("phase after cancellation must not run")
				return wc, nil
			}},
	}

	engine := NewEngine(store, testLogger())
	_, err := engine.Execute(context.Background(), sess.ID, Context{SessionID: sess.ID}, phases)
	assert.ErrorIs(t, err, ErrCancelled)

	final, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, final.Status)
}

func TestExecute_LogsPhaseBoundaries(t *testing.T) {
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	phases := []Phase{
		&fakePhase{name: "one", status: models.StatusInitializing, progress: 10},
	}

	engine := NewEngine(store, testLogger())
	_, err := engine.Execute(context.Background(), sess.ID, Context{SessionID: sess.ID}, phases)
	require.NoError(t, err)

	logs, err := store.Logs(context.Background(), sess.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(logs), 3)
	assert.Equal(t, "phase started", logs[0].Message)
	assert.Equal(t, "one", logs[0].Metadata["phase"])
	assert.Equal(t, "phase completed", logs[1].Message)
	assert.Equal(t, "workflow completed", logs[len(logs)-1].Message)
}

func TestExecute_MovesThroughDeployedBeforeCompleted(t *testing.T) {
	store := &recordingStore{Store: session.NewMemoryStore()}
	sess := newTestSession(t, store)

	phases := []Phase{
		&fakePhase{name: "deploy", status: models.StatusDeploying, progress: 100},
	}

	engine := NewEngine(store, testLogger())
	_, err := engine.Execute(context.Background(), sess.ID, Context{SessionID: sess.ID}, phases)
	require.NoError(t, err)

	var sawDeployed bool
	for _, s := range store.statuses {
		if s == models.StatusDeployed {
			sawDeployed = true
		}
	}
	assert.True(t, sawDeployed, "expected a deployed status write before completed")
	assert.Equal(t, models.StatusCompleted, store.statuses[len(store.statuses)-1])
}
