// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package queue is a durable job queue stored in the application database.
// Jobs are claimed with a conditional update so exactly one worker runs a
// given job, and failed jobs are retained for inspection.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/ghostshift/internal/logging"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

// ErrNoHandler is returned when processing a queue nobody registered.
var ErrNoHandler = errors.New("no handler registered for queue")

// ErrStalled is recorded on jobs found active at startup.
var ErrStalled = errors.New("job stalled: worker stopped while it was active")

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 2 * time.Second

// Handler runs one job. A returned error fails the attempt.
type Handler func(ctx context.Context, job *Job) error

// FailedListener is told about jobs that exhausted their attempts.
type FailedListener func(job *Job, err error)

// Runner enqueues and executes jobs.
type Runner struct {
	db           *bun.DB
	pollInterval time.Duration
	jobTimeout   time.Duration
	metrics      *Metrics
	now          func() time.Time

	mu        sync.RWMutex
	handlers  map[string]Handler
	listeners map[string][]FailedListener
}

// Option configures a Runner.
type Option func(*Runner)

// WithPollInterval sets how long an idle worker sleeps between polls.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithJobTimeout bounds each handler run. Zero means no bound.
func WithJobTimeout(d time.Duration) Option {
	return func(r *Runner) { r.jobTimeout = d }
}

// WithMetrics records job outcomes.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New returns a Runner over bdb, which must carry the queue_jobs table.
func New(bdb *bun.DB, opts ...Option) *Runner {
	r := &Runner{
		db:           bdb,
		pollInterval: DefaultPollInterval,
		now:          func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		handlers:     make(map[string]Handler),
		listeners:    make(map[string][]FailedListener),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start registers the handler of queue, replacing any previous one.
func (r *Runner) Start(queue string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queue] = h
}

// OnFailed adds a listener for jobs of queue that fail for good.
func (r *Runner) OnFailed(queue string, fn FailedListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[queue] = append(r.listeners[queue], fn)
}

// Queues lists the queues that have a handler, sorted.
func (r *Runner) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for q := range r.handlers {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// Enqueue stores a waiting job with data marshalled as JSON.
func (r *Runner) Enqueue(ctx context.Context, queue, name string, data any, opts Options) (*Job, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal job data: %w", err)
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	m := JobModel{
		ID:               uuid.NewString(),
		Queue:            queue,
		Name:             name,
		Data:             string(raw),
		Status:           string(StatusWaiting),
		Attempts:         opts.Attempts,
		RemoveOnComplete: opts.RemoveOnComplete,
		KeepFailed:       opts.KeepFailed,
		CreatedAt:        r.now(),
	}
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", queue, err)
	}
	logging.With("queue", queue, "job", m.ID).Debug("job enqueued")
	j := jobModelToJob(m)
	return &j, nil
}

// Get returns a job by id, or nil once it was removed.
func (r *Runner) Get(ctx context.Context, id string) (*Job, error) {
	var m JobModel
	if err := r.db.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	j := jobModelToJob(m)
	return &j, nil
}

// List returns the jobs of queue in status, newest first. An empty status
// lists every job.
func (r *Runner) List(ctx context.Context, queue string, status Status) ([]Job, error) {
	var rows []JobModel
	q := r.db.NewSelect().Model(&rows).Where("queue = ?", queue)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.OrderExpr("created_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(rows))
	for _, m := range rows {
		out = append(out, jobModelToJob(m))
	}
	return out, nil
}

// ProcessNext claims and runs the oldest waiting job of queue. It reports
// whether a job was run; a handler failure is not returned as an error.
func (r *Runner) ProcessNext(ctx context.Context, queue string) (bool, error) {
	r.mu.RLock()
	h := r.handlers[queue]
	r.mu.RUnlock()
	if h == nil {
		return false, fmt.Errorf("%w: %s", ErrNoHandler, queue)
	}

	job, err := r.claim(ctx, queue)
	if err != nil || job == nil {
		return false, err
	}

	log := logging.With("queue", queue, "job", job.ID)
	log.Debug("job started", "attempt", job.AttemptsMade)
	start := time.Now()
	runErr := r.run(ctx, h, job)
	took := time.Since(start)

	// Bookkeeping must land even when the worker is shutting down.
	bctx := context.WithoutCancel(ctx)
	if runErr == nil {
		r.metrics.observe(queue, OutcomeCompleted, took)
		log.Info("job completed", "took", took)
		return true, r.complete(bctx, job)
	}
	if job.AttemptsMade < job.Attempts {
		r.metrics.observe(queue, OutcomeRetried, took)
		log.Warn("job attempt failed, retrying", "err", runErr, "attempt", job.AttemptsMade)
		return true, r.requeue(bctx, job, runErr)
	}
	r.metrics.observe(queue, OutcomeFailed, took)
	return true, r.fail(bctx, job, runErr)
}

// run calls h for a claimed job. The handler is detached from the worker's
// cancellation so a shutdown waits for it; only the job timeout bounds it.
func (r *Runner) run(ctx context.Context, h Handler, job *Job) (err error) {
	ctx = context.WithoutCancel(ctx)
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job handler panicked: %v", p)
		}
	}()
	return h(ctx, job)
}

// claim flips the oldest waiting job to active. Losing the race to another
// worker yields (nil, nil).
func (r *Runner) claim(ctx context.Context, queue string) (*Job, error) {
	var m JobModel
	err := r.db.NewSelect().Model(&m).
		Where("queue = ?", queue).
		Where("status = ?", string(StatusWaiting)).
		OrderExpr("created_at ASC, id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("poll %s: %w", queue, err)
	}
	started := r.now()
	res, err := r.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(StatusActive)).
		Set("started_at = ?", started).
		Set("attempts_made = attempts_made + 1").
		Where("id = ?", m.ID).
		Where("status = ?", string(StatusWaiting)).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, nil
	}
	m.Status = string(StatusActive)
	m.AttemptsMade++
	m.StartedAt = sql.NullTime{Time: started, Valid: true}
	j := jobModelToJob(m)
	return &j, nil
}

func (r *Runner) complete(ctx context.Context, job *Job) error {
	if job.Options.RemoveOnComplete {
		_, err := r.db.NewDelete().Model((*JobModel)(nil)).Where("id = ?", job.ID).Exec(ctx)
		return err
	}
	_, err := r.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(StatusCompleted)).
		Set("finished_at = ?", r.now()).
		Where("id = ?", job.ID).
		Exec(ctx)
	return err
}

func (r *Runner) requeue(ctx context.Context, job *Job, cause error) error {
	_, err := r.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(StatusWaiting)).
		Set("last_error = ?", cause.Error()).
		Where("id = ?", job.ID).
		Exec(ctx)
	return err
}

// fail marks the job failed, prunes old failures and notifies listeners.
func (r *Runner) fail(ctx context.Context, job *Job, cause error) error {
	finished := r.now()
	_, err := r.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(StatusFailed)).
		Set("last_error = ?", cause.Error()).
		Set("finished_at = ?", finished).
		Where("id = ?", job.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	job.Status = StatusFailed
	job.Error = cause.Error()
	job.FinishedAt = finished

	r.mu.RLock()
	listeners := append([]FailedListener(nil), r.listeners[job.Queue]...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(job, cause)
	}

	if job.Options.KeepFailed > 0 {
		if err := r.pruneFailed(ctx, job.Queue, job.Options.KeepFailed); err != nil {
			logging.With("queue", job.Queue).Warn("pruning failed jobs", "err", err)
		}
	}
	return nil
}

func (r *Runner) pruneFailed(ctx context.Context, queue string, keep int) error {
	var ids []string
	err := r.db.NewSelect().Model((*JobModel)(nil)).
		Column("id").
		Where("queue = ?", queue).
		Where("status = ?", string(StatusFailed)).
		OrderExpr("finished_at DESC, id DESC").
		Scan(ctx, &ids)
	if err != nil {
		return err
	}
	if len(ids) <= keep {
		return nil
	}
	_, err = r.db.NewDelete().Model((*JobModel)(nil)).Where("id IN (?)", bun.In(ids[keep:])).Exec(ctx)
	return err
}

// RecoverStalled fails every job of a registered queue that is still
// active, which only happens when a previous worker died mid-job. Jobs with
// attempts left are re-queued instead.
func (r *Runner) RecoverStalled(ctx context.Context) (int, error) {
	queues := r.Queues()
	if len(queues) == 0 {
		return 0, nil
	}
	var rows []JobModel
	err := r.db.NewSelect().Model(&rows).
		Where("queue IN (?)", bun.In(queues)).
		Where("status = ?", string(StatusActive)).
		Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stalled jobs: %w", err)
	}
	for _, m := range rows {
		job := jobModelToJob(m)
		r.metrics.observe(job.Queue, OutcomeStalled, 0)
		logging.With("queue", job.Queue, "job", job.ID).Warn("recovering stalled job")
		if job.AttemptsMade < job.Attempts {
			err = r.requeue(ctx, &job, ErrStalled)
		} else {
			err = r.fail(ctx, &job, ErrStalled)
		}
		if err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// Run recovers stalled jobs and then polls every registered queue until ctx
// is done. Each queue gets one worker, so jobs of a queue run one at a time.
// A job already running when ctx is cancelled runs to its end before Run
// returns.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.RecoverStalled(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range r.Queues() {
		g.Go(func() error { return r.work(gctx, q) })
	}
	return g.Wait()
}

func (r *Runner) work(ctx context.Context, queue string) error {
	logging.With("queue", queue).Info("worker started", "poll", r.pollInterval)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		processed, err := r.ProcessNext(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.With("queue", queue).Error("processing job", "err", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			logging.With("queue", queue).Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}
