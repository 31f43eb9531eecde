package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	done := make(chan Job, 1)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		done <- job
		return nil
	}, QueueConfig{Workers: 2, MaxRetries: 3, RetryDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "stats.reconcile_course", Payload: "c1"}))

	select {
	case job := <-done:
		assert.Equal(t, 2, job.Attempt)
		assert.Equal(t, "c1", job.Payload)
		assert.NotEmpty(t, job.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried to success")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{Type: "noop"}))
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	q := NewQueue("sched", func(context.Context, Job) error { return nil }, QueueConfig{})
	s := NewScheduler(nil)
	assert.Error(t, s.Every("not a cron", q, "noop", nil))
	assert.Error(t, s.Every("@hourly", nil, "noop", nil))
	assert.NoError(t, s.Every("@hourly", q, "noop", nil))
}
