package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhblabs/settlement-backend/internal/types/environments"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

func newTestQueue(workers int) *Queue {
	return New(nil, nil, workers, logger.New(environments.Test), nil)
}

func TestQueue_ExecutesRegisteredHandler(t *testing.T) {
	q := newTestQueue(2)
	defer q.Stop()

	done := make(chan []byte, 1)
	q.Register("verify_payment", func(ctx context.Context, payload []byte) error {
		done <- payload
		return nil
	})
	q.Start()

	err := q.Enqueue(context.Background(), "verify_payment", map[string]string{"session_id": "cs_1"}, Options{})
	require.NoError(t, err)

	select {
	case payload := <-done:
		assert.JSONEq(t, `{"session_id":"cs_1"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestQueue_DuplicateIdempotencyKeyRejected(t *testing.T) {
	q := newTestQueue(1)
	defer q.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	q.Register("transfer_token", func(ctx context.Context, payload []byte) error {
		close(started)
		<-release
		return nil
	})
	q.Start()

	opts := Options{IdempotencyKey: "transfer:cs_1"}
	require.NoError(t, q.Enqueue(context.Background(), "transfer_token", nil, opts))

	<-started

	// second admission while the first is active must be rejected
	err := q.Enqueue(context.Background(), "transfer_token", nil, opts)
	assert.ErrorIs(t, err, ErrDuplicateJob)

	close(release)
}

func TestQueue_KeyReleasedAfterCompletion(t *testing.T) {
	q := newTestQueue(1)
	defer q.Stop()

	var runs atomic.Int32
	done := make(chan struct{}, 2)
	q.Register("verify_payment", func(ctx context.Context, payload []byte) error {
		runs.Add(1)
		done <- struct{}{}
		return nil
	})
	q.Start()

	opts := Options{IdempotencyKey: "verify:cs_9"}
	require.NoError(t, q.Enqueue(context.Background(), "verify_payment", nil, opts))
	<-done

	// give the worker a beat to release the key after the handler returned
	assert.Eventually(t, func() bool {
		return q.Enqueue(context.Background(), "verify_payment", nil, opts) == nil
	}, 2*time.Second, 10*time.Millisecond)

	<-done
	assert.Equal(t, int32(2), runs.Load())
}

func TestQueue_DelayedJob(t *testing.T) {
	q := newTestQueue(1)
	defer q.Stop()

	executed := make(chan time.Time, 1)
	q.Register("transfer_token", func(ctx context.Context, payload []byte) error {
		executed <- time.Now()
		return nil
	})
	q.Start()

	start := time.Now()
	delay := 100 * time.Millisecond
	require.NoError(t, q.Enqueue(context.Background(), "transfer_token", nil, Options{Delay: delay}))

	select {
	case at := <-executed:
		assert.GreaterOrEqual(t, at.Sub(start), delay)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed job never ran")
	}
}

func TestQueue_ConcurrentDuplicates_OnlyOneAdmitted(t *testing.T) {
	q := newTestQueue(4)
	defer q.Stop()

	block := make(chan struct{})
	q.Register("verify_payment", func(ctx context.Context, payload []byte) error {
		<-block
		return nil
	})
	q.Start()

	const attempts = 10
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Enqueue(context.Background(), "verify_payment", nil, Options{IdempotencyKey: "verify:cs_dup"}); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(block)

	assert.Equal(t, int32(1), admitted.Load())
}

func TestQueue_EnqueueAfterStop(t *testing.T) {
	q := newTestQueue(1)
	q.Register("verify_payment", func(ctx context.Context, payload []byte) error { return nil })
	q.Start()
	q.Stop()

	err := q.Enqueue(context.Background(), "verify_payment", nil, Options{})
	assert.ErrorIs(t, err, ErrQueueStopped)
}
