package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sitesmith/sitesmith/internal/queue"
	"github.com/sitesmith/sitesmith/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrain_PriorityOrderWithStableTies(t *testing.T) {
	var order []string
	svc := queue.NewService(map[models.JobType]queue.Handler{
		models.JobTypeNotify: func(_ context.Context, job *models.QueueJob) error {
			order = append(order, job.Payload["tag"])
			return nil
		},
	})

	for i, prio := range []int{5, 1, 5, 3} {
		svc.Enqueue("notifications", &models.QueueJob{
			Type:     models.JobTypeNotify,
			Priority: prio,
			Payload:  map[string]string{"tag": string(rune('0' + i))},
		})
	}

	stats := svc.Drain(context.Background(), "notifications")

	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 4, stats.Completed)
	assert.Equal(t, []string{"0", "2", "3", "1"}, order)
}

func TestDrain_FailureReschedulesWithExponentialBackoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := queue.NewService(map[models.JobType]queue.Handler{
		models.JobTypeBackup: func(_ context.Context, _ *models.QueueJob) error {
			return errors.New("backup target unreachable")
		},
	}).WithClock(func() time.Time { return now })

	job := &models.QueueJob{Type: models.JobTypeBackup, Attempts: 1, MaxAttempts: 5}
	svc.Enqueue("backups", job)

	stats := svc.Drain(context.Background(), "backups")
	require.Equal(t, 1, stats.Requeued)

	pending := svc.Pending("backups")
	require.Len(t, pending, 1)
	assert.Equal(t, models.JobStatusPending, pending[0].Status)
	assert.Equal(t, 2, pending[0].Attempts)
	require.NotNil(t, pending[0].ScheduledFor)
	assert.Equal(t, now.Add(4*time.Second), *pending[0].ScheduledFor)
}

func TestDrain_SkipsJobsNotYetDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	calls := 0
	svc := queue.NewService(map[models.JobType]queue.Handler{
		models.JobTypeNotify: func(_ context.Context, _ *models.QueueJob) error {
			calls++
			return nil
		},
	}).WithClock(func() time.Time { return now })

	later := now.Add(time.Minute)
	svc.Enqueue("notifications", &models.QueueJob{Type: models.JobTypeNotify, ScheduledFor: &later})

	stats := svc.Drain(context.Background(), "notifications")
	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 0, calls)

	now = now.Add(2 * time.Minute)
	stats = svc.Drain(context.Background(), "notifications")
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, calls)
}

func TestDrain_ExhaustedJobFailsPermanentlyAndIsCompacted(t *testing.T) {
	svc := queue.NewService(map[models.JobType]queue.Handler{
		models.JobTypeCleanup: func(_ context.Context, _ *models.QueueJob) error {
			return errors.New("still broken")
		},
	})

	svc.Enqueue("maintenance", &models.QueueJob{Type: models.JobTypeCleanup, Attempts: 2, MaxAttempts: 3})

	stats := svc.Drain(context.Background(), "maintenance")
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, svc.Pending("maintenance"))
}

func TestDrain_CompletedJobsAreCompacted(t *testing.T) {
	svc := queue.NewService(map[models.JobType]queue.Handler{
		models.JobTypeNotify: func(_ context.Context, _ *models.QueueJob) error { return nil },
	})

	svc.Enqueue("notifications", &models.QueueJob{Type: models.JobTypeNotify})
	svc.Drain(context.Background(), "notifications")

	assert.Empty(t, svc.Pending("notifications"))
}

func TestDrain_UnknownJobTypeFailsThatJobOnly(t *testing.T) {
	handled := 0
	svc := queue.NewService(map[models.JobType]queue.Handler{
		models.JobTypeNotify: func(_ context.Context, _ *models.QueueJob) error {
			handled++
			return nil
		},
	})

	svc.Enqueue("notifications", &models.QueueJob{Type: models.JobType("mystery"), Priority: 10})
	svc.Enqueue("notifications", &models.QueueJob{Type: models.JobTypeNotify})

	stats := svc.Drain(context.Background(), "notifications")

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, handled)
	assert.Empty(t, svc.Pending("notifications"))
}

func TestDrain_ConcurrentDrainsDoNotDoubleProcess(t *testing.T) {
	entered := make(chan struct{})
	block := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	svc := queue.NewService(map[models.JobType]queue.Handler{
		models.JobTypeNotify: func(_ context.Context, _ *models.QueueJob) error {
			entered <- struct{}{}
			<-block
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		},
	})

	svc.Enqueue("notifications", &models.QueueJob{Type: models.JobTypeNotify})

	done := make(chan queue.DrainStats, 1)
	go func() {
		done <- svc.Drain(context.Background(), "notifications")
	}()

	// Wait until the first drain is inside the handler, then a second drain
	// for the same queue must be a no-op.
	<-entered
	second := svc.Drain(context.Background(), "notifications")
	assert.Equal(t, queue.DrainStats{}, second)

	close(block)
	first := <-done

	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, calls)
}

func TestDrain_QueuesAreIndependent(t *testing.T) {
	processed := map[string]int{}
	svc := queue.NewService(map[models.JobType]queue.Handler{
		models.JobTypeNotify: func(_ context.Context, job *models.QueueJob) error {
			processed[job.Payload["q"]]++
			return nil
		},
	})

	svc.Enqueue("a", &models.QueueJob{Type: models.JobTypeNotify, Payload: map[string]string{"q": "a"}})
	svc.Enqueue("b", &models.QueueJob{Type: models.JobTypeNotify, Payload: map[string]string{"q": "b"}})

	svc.Drain(context.Background(), "a")

	assert.Equal(t, 1, processed["a"])
	assert.Equal(t, 0, processed["b"])
}
