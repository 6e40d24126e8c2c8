package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/dhblabs/settlement-backend/internal/model"
	"github.com/dhblabs/settlement-backend/internal/monitoring"
	"github.com/dhblabs/settlement-backend/internal/store"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

var (
	ErrDuplicateJob = errors.New("job with this idempotency key already admitted")
	ErrQueueStopped = errors.New("queue stopped")
	ErrUnknownJob   = errors.New("no handler registered for job")
)

const (
	jobBuffer  = 1024
	jobTimeout = 5 * time.Minute
)

type job struct {
	name    string
	key     string
	payload []byte
}

type Queue struct {
	db      *gorm.DB
	store   *store.Store
	logger  *logger.Logger
	metrics *monitoring.JobMetrics
	workers int

	mu       sync.Mutex
	inflight map[string]struct{}
	handlers map[string]Handler
	stopped  bool

	jobs chan *job
	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds the queue. db may be nil, in which case the persisted admission
// trail is skipped (tests).
func New(db *gorm.DB, s *store.Store, workers int, logger *logger.Logger, metrics *monitoring.JobMetrics) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		db:       db,
		store:    s,
		logger:   logger,
		metrics:  metrics,
		workers:  workers,
		inflight: make(map[string]struct{}),
		handlers: make(map[string]Handler),
		jobs:     make(chan *job, jobBuffer),
		quit:     make(chan struct{}),
	}
}

func (q *Queue) Register(jobName string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobName] = handler
}

func (q *Queue) Enqueue(ctx context.Context, jobName string, payload interface{}, opts Options) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	key := opts.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	if err := q.admit(jobName, key, raw, opts.Delay); err != nil {
		return err
	}

	j := &job{name: jobName, key: key, payload: raw}

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() {
			select {
			case q.jobs <- j:
			case <-q.quit:
			}
		})
		return nil
	}

	select {
	case q.jobs <- j:
		return nil
	case <-q.quit:
		q.release(key)
		return ErrQueueStopped
	case <-ctx.Done():
		q.release(key)
		return ctx.Err()
	}
}

func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	q.logger.Info("job queue started", map[string]string{
		"workers": strconv.Itoa(q.workers),
	})
}

func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.quit)
	q.wg.Wait()
}

// admit reserves the idempotency key and records the audit row.
func (q *Queue) admit(jobName, key string, payload []byte, delay time.Duration) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	if _, dup := q.inflight[key]; dup {
		q.mu.Unlock()
		return errors.Wrapf(ErrDuplicateJob, "key %s", key)
	}
	q.inflight[key] = struct{}{}
	depth := len(q.inflight)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SetQueueDepth(depth)
	}

	if q.db != nil {
		_, err := q.store.QueueJob.Create(q.db, &model.QueueJob{
			JobName:        jobName,
			IdempotencyKey: key,
			Payload:        payload,
			Status:         model.QueueJobStatusQueued,
			RunAt:          time.Now().Add(delay),
		})
		if err != nil {
			// The in-memory reservation is the admission authority; a failed
			// audit write only loses the trail row.
			q.logger.Error("[Enqueue][Create] audit row write failed", map[string]string{
				"job":   jobName,
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	return nil
}

func (q *Queue) release(key string) {
	q.mu.Lock()
	delete(q.inflight, key)
	depth := len(q.inflight)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SetQueueDepth(depth)
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.quit:
			return
		case j := <-q.jobs:
			q.execute(j)
		}
	}
}

func (q *Queue) execute(j *job) {
	q.mu.Lock()
	handler, ok := q.handlers[j.name]
	q.mu.Unlock()

	if !ok {
		q.logger.Error("[execute] no handler for job", map[string]string{
			"job": j.name,
		})
		q.release(j.key)
		return
	}

	if q.metrics != nil {
		q.metrics.JobStarted()
		defer q.metrics.JobFinished()
	}
	if q.db != nil {
		_ = q.store.QueueJob.MarkActive(q.db, j.key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	err := handler(ctx, j.payload)
	duration := time.Since(start)

	// Release before recording the outcome so a handler-scheduled retry
	// (delayed re-enqueue) is never blocked by its own key.
	q.release(j.key)

	if q.metrics != nil {
		q.metrics.ObserveJob(j.name, duration, err)
	}

	if err != nil {
		q.logger.Error("[execute] job failed", map[string]string{
			"job":   j.name,
			"key":   j.key,
			"error": err.Error(),
		})
		if q.db != nil {
			_ = q.store.QueueJob.MarkFailed(q.db, j.key, err.Error())
		}
		return
	}

	if q.db != nil {
		_ = q.store.QueueJob.MarkDone(q.db, j.key)
	}
}
