package usecases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/infrastructure"
	"convertapi/internal/interfaces"

	"go.uber.org/zap"
)

const (
	msgCapacityExhausted = "conversion capacity exhausted"
	msgShuttingDown      = "service is shutting down"
	msgTimedOut          = "conversion timed out"
	msgCancelled         = "conversion cancelled"
	msgEngineCrashed     = "conversion failed due to an internal error"
	msgEngineFailed      = "conversion failed"

	storeWriteTimeout  = 10 * time.Second
	notifyTimeout      = 10 * time.Second
	maxRetryBackoff    = 2 * time.Second
	defaultRetries     = 5
	defaultBackoffBase = 100 * time.Millisecond
)

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// StoreRetries bounds the attempts for each job status write.
	StoreRetries int
	RetryBackoff time.Duration
}

type dispatchTask struct {
	job  *entities.Job
	tool entities.ToolConfig
}

// Dispatcher runs conversions on a fixed pool of workers fed by a bounded queue.
// Handlers never block on it: a full queue fails the job immediately.
type Dispatcher struct {
	registry  *JobRegistry
	engine    interfaces.ConversionEngine
	artifacts interfaces.ArtifactStore
	notifier  interfaces.Notifier
	metrics   *infrastructure.Metrics
	logger    *zap.SugaredLogger
	cfg       DispatcherConfig

	queue   chan dispatchTask
	wg      sync.WaitGroup
	notify  sync.WaitGroup
	mu      sync.RWMutex
	started bool
	closed  bool

	baseCtx context.Context
	abort   context.CancelFunc
	now     func() time.Time
}

func NewDispatcher(
	registry *JobRegistry,
	engine interfaces.ConversionEngine,
	artifacts interfaces.ArtifactStore,
	notifier interfaces.Notifier,
	metrics *infrastructure.Metrics,
	logger *zap.SugaredLogger,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.StoreRetries <= 0 {
		cfg.StoreRetries = defaultRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultBackoffBase
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		registry:  registry,
		engine:    engine,
		artifacts: artifacts,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		queue:     make(chan dispatchTask, cfg.QueueSize),
		baseCtx:   ctx,
		abort:     cancel,
		now:       time.Now,
	}
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Infow("dispatcher started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
}

// Dispatch enqueues a pending job. It reports false when the job could not be
// queued, in which case the job has already been moved to failed.
func (d *Dispatcher) Dispatch(job *entities.Job, tool entities.ToolConfig) bool {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.reject(job, tool, msgShuttingDown)
		return false
	}
	select {
	case d.queue <- dispatchTask{job: job, tool: tool}:
		d.metrics.QueueDepth(len(d.queue))
		d.mu.RUnlock()
		return true
	default:
		d.mu.RUnlock()
		d.reject(job, tool, msgCapacityExhausted)
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued and running work, then for
// pending notifications. When ctx expires first, running conversions are
// cancelled and fail.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		d.abort()
		for task := range d.queue {
			d.reject(task.job, task.tool, msgShuttingDown)
		}
		return d.waitNotifications(ctx)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.abort()
		return d.waitNotifications(ctx)
	case <-ctx.Done():
		d.abort()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) waitNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.notify.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for task := range d.queue {
		d.metrics.QueueDepth(len(d.queue))
		d.process(task)
	}
	d.logger.Debugw("dispatch worker stopped", "worker", id)
}

func (d *Dispatcher) process(task dispatchTask) {
	start := d.now()
	log := d.logger.With("job_id", task.job.ID, "tool", task.tool.Type)
	defer d.discard(task.job.InputRef)

	err := d.retry(log, "mark processing", func(ctx context.Context) error {
		_, err := d.registry.MarkProcessing(ctx, task.job.ID)
		return err
	})
	if err != nil {
		log.Errorw("mark processing failed", "error", err)
		d.finished(d.abandon(log, task.job.ID, msgEngineCrashed, 0), 0)
		return
	}
	log.Infow("job processing")

	ctx, cancel := context.WithTimeout(d.baseCtx, d.cfg.Timeout)
	out, convErr := d.convert(ctx, task)
	cancel()
	elapsed := d.now().Sub(start)

	if convErr != nil && out != nil {
		// Output produced after the deadline or alongside an error.
		d.discard(out.Ref)
	}

	var final *entities.Job
	if convErr == nil {
		err = d.retry(log, "complete", func(ctx context.Context) error {
			var err error
			final, err = d.registry.Complete(ctx, task.job.ID, entities.JobOutput{
				Filename: out.Filename,
				Ref:      out.Ref,
				Size:     out.Size,
			}, elapsed)
			return err
		})
		if err != nil {
			log.Errorw("completing job failed", "error", err)
			d.discard(out.Ref)
			convErr = err
		}
	}
	if convErr != nil {
		log.Warnw("conversion failed", "error", convErr, "elapsed", elapsed)
		err = d.retry(log, "fail", func(ctx context.Context) error {
			var err error
			final, err = d.registry.Fail(ctx, task.job.ID, failureMessage(convErr), elapsed)
			return err
		})
		if err != nil {
			log.Errorw("failing job failed", "error", err)
			final = d.abandon(log, task.job.ID, failureMessage(convErr), elapsed)
		}
	} else {
		log.Infow("job completed", "elapsed", elapsed, "output_size", out.Size)
	}

	d.finished(final, elapsed)
}

// retry runs a job status write until it succeeds, the job is gone, or the
// attempts run out. Each attempt gets its own deadline.
func (d *Dispatcher) retry(log *zap.SugaredLogger, op string, fn func(ctx context.Context) error) error {
	backoff := d.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= d.cfg.StoreRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
		err = fn(ctx)
		cancel()
		if err == nil || errors.Is(err, entities.ErrJobNotFound) || errors.Is(err, entities.ErrInvalidTransition) {
			return err
		}
		if attempt == d.cfg.StoreRetries {
			break
		}
		log.Warnw("job store write failed, retrying", "op", op, "attempt", attempt, "backoff", backoff, "error", err)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
	return err
}

// abandon makes one last attempt to fail a job whose status writes kept
// failing. A job still pending in the store cannot be failed and stays put.
func (d *Dispatcher) abandon(log *zap.SugaredLogger, jobID, reason string, elapsed time.Duration) *entities.Job {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	final, err := d.registry.Fail(ctx, jobID, reason, elapsed)
	if err != nil {
		log.Errorw("job abandoned", "reason", reason, "error", err)
		return nil
	}
	return final
}

// convert runs the engine, turning a panic into an error.
func (d *Dispatcher) convert(ctx context.Context, task dispatchTask) (out *interfaces.ConversionOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &enginePanic{value: r}
		}
	}()
	out, err = d.engine.Convert(ctx, interfaces.ConversionRequest{
		JobID:         task.job.ID,
		InputRef:      task.job.InputRef,
		InputFilename: task.job.InputFilename,
		Tool:          task.tool,
		Options:       task.job.Options,
	})
	if err == nil && out == nil {
		err = errors.New("engine returned no output")
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return out, err
}

// reject walks a job that never reached a worker through processing to failed.
func (d *Dispatcher) reject(job *entities.Job, tool entities.ToolConfig, reason string) {
	log := d.logger.With("job_id", job.ID, "tool", tool.Type)
	defer d.discard(job.InputRef)

	err := d.retry(log, "mark processing", func(ctx context.Context) error {
		_, err := d.registry.MarkProcessing(ctx, job.ID)
		return err
	})
	if err != nil {
		log.Errorw("mark processing failed", "error", err)
		d.finished(d.abandon(log, job.ID, reason, 0), 0)
		return
	}
	var final *entities.Job
	err = d.retry(log, "fail", func(ctx context.Context) error {
		var err error
		final, err = d.registry.Fail(ctx, job.ID, reason, 0)
		return err
	})
	if err != nil {
		log.Errorw("failing rejected job failed", "error", err)
		final = d.abandon(log, job.ID, reason, 0)
	}
	log.Warnw("job rejected", "reason", reason)
	d.finished(final, 0)
}

func (d *Dispatcher) discard(ref string) {
	if ref == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := d.artifacts.Delete(ctx, ref); err != nil && !errors.Is(err, infrastructure.ErrArtifactNotFound) {
		d.logger.Warnw("artifact cleanup failed", "ref", ref, "error", err)
	}
}

// finished records metrics and hands the job to the notifier off the worker.
func (d *Dispatcher) finished(job *entities.Job, elapsed time.Duration) {
	if job == nil {
		return
	}
	d.metrics.JobFinished(string(job.ToolType), string(job.Status), elapsed.Seconds())
	if d.notifier == nil {
		return
	}
	d.notify.Add(1)
	go func() {
		defer d.notify.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := d.notifier.JobFinished(ctx, job); err != nil {
			d.logger.Warnw("job notification failed", "job_id", job.ID, "error", err)
		}
	}()
}

type enginePanic struct {
	value any
}

func (p *enginePanic) Error() string {
	return fmt.Sprintf("engine panic: %v", p.value)
}

// failureMessage maps an internal error to the text stored on the job.
// Engine details stay in the logs.
func failureMessage(err error) string {
	var panicked *enginePanic
	switch {
	case errors.As(err, &panicked):
		return msgEngineCrashed
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimedOut
	case errors.Is(err, context.Canceled):
		return msgCancelled
	}
	var verr *entities.ValidationError
	if errors.As(err, &verr) {
		return msgEngineFailed + ": " + verr.Message
	}
	return msgEngineFailed
}
