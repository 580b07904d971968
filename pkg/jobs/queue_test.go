package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversJob(t *testing.T) {
	done := make(chan Job, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		done <- job
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer q.Stop(context.Background())

	id, err := q.Enqueue(Job{Type: "welcome", Payload: "alice@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case job := <-done:
		assert.Equal(t, id, job.ID)
		assert.Equal(t, "welcome", job.Type)
		assert.False(t, job.Enqueued.IsZero())
	case <-time.After(time.Second):
		t.Fatal("job was not processed")
	}
}

func TestQueueRetriesThenDiscards(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var discarded []error
	discardedCh := make(chan struct{})

	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("smtp down")
	}, QueueConfig{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Hooks: Hooks{OnDiscard: func(job Job, err error) {
			mu.Lock()
			discarded = append(discarded, err)
			mu.Unlock()
			close(discardedCh)
		}},
	})
	q.Start(context.Background())
	defer q.Stop(context.Background())

	_, err := q.Enqueue(Job{Type: "enrollment"})
	require.NoError(t, err)

	select {
	case <-discardedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not discarded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, discarded, 1)
	assert.EqualError(t, discarded[0], "smtp down")
}

func TestQueueRecoversHandlerPanic(t *testing.T) {
	discardedCh := make(chan error, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		panic("bad payload")
	}, QueueConfig{Workers: 1, MaxRetries: 0, Hooks: Hooks{OnDiscard: func(job Job, err error) {
		discardedCh <- err
	}}})
	q.Start(context.Background())
	defer q.Stop(context.Background())

	_, err := q.Enqueue(Job{Type: "welcome"})
	require.NoError(t, err)

	select {
	case err := <-discardedCh:
		assert.Contains(t, err.Error(), "bad payload")
	case <-time.After(time.Second):
		t.Fatal("panic was not converted to a failure")
	}
}

func TestEnqueueRejectsWhenNotRunning(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})

	_, err := q.Enqueue(Job{Type: "welcome"})
	assert.ErrorIs(t, err, ErrQueueClosed)

	q.Start(context.Background())
	q.Stop(context.Background())

	_, err = q.Enqueue(Job{Type: "welcome"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestEnqueueReportsFullBuffer(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop(context.Background())
	}()

	_, err := q.Enqueue(Job{Type: "a"})
	require.NoError(t, err)
	<-started

	_, err = q.Enqueue(Job{Type: "b"})
	require.NoError(t, err)

	_, err = q.Enqueue(Job{Type: "c"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestStopDrainsAfterParentContextCancelled(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var handled int32
	var cancelledSeen int32

	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if job.Type == "slow" {
			started <- struct{}{}
			<-release
		}
		if ctx.Err() != nil {
			atomic.AddInt32(&cancelledSeen, 1)
		}
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})

	parent, cancelParent := context.WithCancel(context.Background())
	q.Start(parent)

	_, err := q.Enqueue(Job{Type: "slow"})
	require.NoError(t, err)
	<-started
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(Job{Type: "welcome"})
		require.NoError(t, err)
	}

	cancelParent()
	close(release)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	begin := time.Now()
	q.Stop(stopCtx)

	assert.Equal(t, int32(4), atomic.LoadInt32(&handled))
	assert.Zero(t, atomic.LoadInt32(&cancelledSeen))
	assert.Zero(t, q.Pending())
	assert.Less(t, time.Since(begin), time.Second)
}
