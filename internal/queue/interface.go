package queue

import (
	"context"
	"time"
)

// Handler processes one job payload. Returning an error marks the run failed;
// re-delivery is the caller's concern (delayed re-enqueue or a reconciliation
// sweep), not the queue's.
type Handler func(ctx context.Context, payload []byte) error

type Options struct {
	// IdempotencyKey dedupes admission: while a job with the same key is
	// pending or active, further enqueues are rejected with ErrDuplicateJob.
	// Empty means no dedup.
	IdempotencyKey string

	// Delay postpones execution.
	Delay time.Duration
}

// IQueue admits jobs exactly once per idempotency key and executes them
// at least once on a bounded worker pool. Enqueue returns only after
// admission is decided, so the caller always knows whether the job is in.
type IQueue interface {
	Register(jobName string, handler Handler)
	Enqueue(ctx context.Context, jobName string, payload interface{}, opts Options) error
	Start()
	Stop()
}
