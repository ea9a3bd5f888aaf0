package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sitesmith/sitesmith/internal/store"
	"github.com/sitesmith/sitesmith/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("sitesmith_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newProject(name string) *models.Project {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Project{
		ID:            uuid.New(),
		Name:          name,
		Template:      "astro-blog",
		AIProvider:    "anthropic",
		AIModel:       "claude-sonnet-4-5-20250929",
		RepositoryURL: "https://github.com/sitesmith/" + name,
		Status:        models.ProjectInitializing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestProject_CreateGetRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pg := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	want := newProject("marina-cafe")
	want.Sessions.Initialization = "init_0000000000001_aa"
	want.Sessions.Latest = "init_0000000000001_aa"
	want.Sessions.Active = []string{"init_0000000000001_aa"}

	require.NoError(t, pg.CreateProject(ctx, want))

	got, err := pg.GetProject(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Template, got.Template)
	assert.Equal(t, want.Sessions, got.Sessions)
	assert.Equal(t, models.ProjectInitializing, got.Status)
}

func TestProject_DuplicateName(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pg := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, pg.CreateProject(ctx, newProject("dup")))
	err := pg.CreateProject(ctx, newProject("dup"))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestProject_GetMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pg := store.NewPostgresStore(setupTestDB(t))

	_, err := pg.GetProject(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProject_UpdateSessionTracking(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pg := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	p := newProject("tracking")
	require.NoError(t, pg.CreateProject(ctx, p))

	p.TrackSessionStart("dep_0000000000002_bb", false)
	p.Status = models.ProjectActive
	require.NoError(t, pg.UpdateProject(ctx, p))

	got, err := pg.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "dep_0000000000002_bb", got.Sessions.Latest)
	assert.Equal(t, []string{"dep_0000000000002_bb"}, got.Sessions.Active)
	assert.Equal(t, models.ProjectActive, got.Status)

	p.TrackSessionEnd("dep_0000000000002_bb")
	require.NoError(t, pg.UpdateProject(ctx, p))

	got, err = pg.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Sessions.Active)
}

func TestProject_UpdateMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pg := store.NewPostgresStore(setupTestDB(t))

	err := pg.UpdateProject(context.Background(), newProject("ghost"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pg := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "ci",
		KeyHash:   "$2a$10$abcdefghijklmnopqrstuv",
		KeyPrefix: "sk_12345",
		Scopes:    []string{"admin"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, pg.CreateAPIKey(ctx, key))

	byPrefix, err := pg.GetAPIKeyByPrefix(ctx, "sk_12345")
	require.NoError(t, err)
	require.Len(t, byPrefix, 1)
	assert.Equal(t, []string{"admin"}, byPrefix[0].Scopes)

	require.NoError(t, pg.RevokeAPIKey(ctx, key.ID))

	byPrefix, err = pg.GetAPIKeyByPrefix(ctx, "sk_12345")
	require.NoError(t, err)
	assert.Empty(t, byPrefix)

	err = pg.RevokeAPIKey(ctx, key.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
