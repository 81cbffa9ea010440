// Package jobs is an in-process retry queue for background work on content items.
//
// Jobs live only in memory. Anything running or waiting for a retry timer when the
// process stops is dropped; callers treat that as a failed attempt the user can request
// again.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/PortNumber53/social-scheduler/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 5 * time.Second
)

var ErrNotRunning = errors.New("job queue not running")

// Job is one unit of work keyed by the item it acts on. Only one job per key can be in
// the queue at a time.
type Job struct {
	ID       string
	Key      string
	UserID   string
	MediaRef string
	Attempt  int
	Enqueued time.Time
}

// Handler runs a job attempt. A returned error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// ExhaustedFunc runs once when a job has failed every attempt.
type ExhaustedFunc func(ctx context.Context, job Job, err error)

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	// AttemptTimeout bounds one handler call. Zero means no extra bound.
	AttemptTimeout time.Duration
}

type timer interface{ Stop() bool }

type Queue struct {
	cfg         Config
	handler     Handler
	onExhausted ExhaustedFunc
	log         logrus.FieldLogger
	metrics     metrics.Recorder

	// afterFunc schedules retries; tests replace it to observe delays.
	afterFunc func(d time.Duration, f func()) timer

	mu         sync.Mutex
	processing map[string]Job
	timers     map[string]timer
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	wg         sync.WaitGroup
}

type Option func(*Queue)

func WithLogger(l logrus.FieldLogger) Option {
	return func(q *Queue) { q.log = logging.OrDiscard(l) }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(q *Queue) { q.metrics = metrics.OrNop(m) }
}

func WithExhausted(fn ExhaustedFunc) Option {
	return func(q *Queue) { q.onExhausted = fn }
}

func New(cfg Config, handler Handler, opts ...Option) *Queue {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	q := &Queue{
		cfg:        cfg,
		handler:    handler,
		log:        logging.Discard(),
		metrics:    metrics.Nop{},
		processing: map[string]Job{},
		timers:     map[string]timer{},
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// RetryDelay is the wait before the given retry (1-based): BaseDelay * retry.
func (q *Queue) RetryDelay(retry int) time.Duration {
	return q.cfg.BaseDelay * time.Duration(retry)
}

func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	q.log.WithFields(logrus.Fields{
		"maxRetries": q.cfg.MaxRetries, "baseDelay": q.cfg.BaseDelay.String(),
	}).Info("[JobQueue] started")
}

// Stop cancels running attempts, drops pending retries and waits for handlers to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	dropped := len(q.processing)
	for key, t := range q.timers {
		// A timer stopped before firing never runs its callback, so release its slot here.
		if t.Stop() {
			q.wg.Done()
		}
		delete(q.timers, key)
	}
	q.processing = map[string]Job{}
	q.mu.Unlock()

	q.wg.Wait()
	q.log.WithField("dropped", dropped).Info("[JobQueue] stopped")
}

// Enqueue accepts a job unless one with the same key is already running or waiting to
// retry. It never blocks on the work itself.
func (q *Queue) Enqueue(job Job) (bool, error) {
	if job.Key == "" {
		return false, fmt.Errorf("job key is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return false, ErrNotRunning
	}
	if _, busy := q.processing[job.Key]; busy {
		q.log.WithField("key", job.Key).Debug("[JobQueue] duplicate_skipped")
		q.metrics.CaptionJob("duplicate")
		return false, nil
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Attempt = 1
	job.Enqueued = time.Now().UTC()
	q.processing[job.Key] = job
	q.metrics.CaptionJob("enqueued")
	q.wg.Add(1)
	go q.run(job)
	return true, nil
}

// Pending returns how many jobs are running or waiting to retry.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

// InFlight reports whether a job with the key is running or waiting to retry.
func (q *Queue) InFlight(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.processing[key]
	return ok
}

func (q *Queue) attempt(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			q.log.WithFields(logrus.Fields{"key": job.Key, "stack": string(debug.Stack())}).Error("[JobQueue] panic")
		}
	}()
	if q.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.AttemptTimeout)
		defer cancel()
	}
	return q.handler(ctx, job)
}

func (q *Queue) run(job Job) {
	defer q.wg.Done()

	q.mu.Lock()
	ctx := q.ctx
	q.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	log := q.log.WithFields(logrus.Fields{"jobId": job.ID, "key": job.Key, "attempt": job.Attempt})
	err := q.attempt(ctx, job)
	if err == nil {
		q.finish(job)
		q.metrics.CaptionJob("completed")
		log.Info("[JobQueue] completed")
		return
	}
	if ctx.Err() != nil {
		q.finish(job)
		return
	}

	retry := job.Attempt
	if retry > q.cfg.MaxRetries {
		q.finish(job)
		q.metrics.CaptionJob("exhausted")
		log.WithError(err).Warn("[JobQueue] exhausted")
		if q.onExhausted != nil {
			q.onExhausted(context.WithoutCancel(ctx), job, err)
		}
		return
	}

	delay := q.RetryDelay(retry)
	next := job
	next.Attempt++
	q.metrics.CaptionJob("retry")
	log.WithError(err).WithField("delay", delay.String()).Warn("[JobQueue] retry_scheduled")

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	q.processing[job.Key] = next
	q.wg.Add(1)
	q.timers[job.Key] = q.afterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, job.Key)
		stillOurs := q.running && q.processing[job.Key].ID == next.ID
		q.mu.Unlock()
		if !stillOurs {
			q.wg.Done()
			return
		}
		q.run(next)
	})
}

func (q *Queue) finish(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.processing[job.Key]; ok && cur.ID == job.ID {
		delete(q.processing, job.Key)
	}
}
