// Package jobs runs research jobs in the background and records their outcome.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"research-assistant/internal/logcapture"
	"research-assistant/internal/models"
	"research-assistant/internal/registry"
	"research-assistant/internal/telemetry"
)

// ErrShuttingDown is returned by Submit once the runner's context has ended
// or Wait has been called.
var ErrShuttingDown = errors.New("runner is shutting down")

var errEmptyReport = errors.New("research produced an empty report")

// Researcher produces a report for a topic, writing progress to console.
type Researcher interface {
	Research(ctx context.Context, topic string, console io.Writer) (string, error)
}

// ResearcherFunc adapts a function to Researcher.
type ResearcherFunc func(ctx context.Context, topic string, console io.Writer) (string, error)

func (f ResearcherFunc) Research(ctx context.Context, topic string, console io.Writer) (string, error) {
	return f(ctx, topic, console)
}

// Archiver keeps a copy of finished reports and returns where it went.
type Archiver interface {
	Store(ctx context.Context, jobID, report string) (string, error)
}

// Auditor records lifecycle events.
type Auditor interface {
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

const (
	archiveAttempts = 3
	sideEffectLimit = 30 * time.Second
)

// Runner drives one goroutine per submitted job.
type Runner struct {
	ctx        context.Context
	registry   *registry.Registry
	researcher Researcher
	log        logrus.FieldLogger
	sem        *semaphore.Weighted
	archive    Archiver
	auditor    Auditor
	echo       io.Writer

	backoffBase time.Duration
	backoffMax  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option customises a Runner.
type Option func(*Runner)

// WithLogger sets the process logger used for runner diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = log }
}

// WithMaxConcurrent bounds how many jobs run at once. n <= 0 leaves it unbounded.
func WithMaxConcurrent(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithArchive stores every completed report in a.
func WithArchive(a Archiver) Option {
	return func(r *Runner) { r.archive = a }
}

// WithAuditor records submitted, completed, failed and archived events.
func WithAuditor(a Auditor) Option {
	return func(r *Runner) { r.auditor = a }
}

// WithEcho also copies every job's console output to w.
func WithEcho(w io.Writer) Option {
	return func(r *Runner) { r.echo = w }
}

// New creates a runner whose jobs live as long as ctx.
func New(ctx context.Context, reg *registry.Registry, researcher Researcher, opts ...Option) *Runner {
	r := &Runner{
		ctx:         ctx,
		registry:    reg,
		researcher:  researcher,
		log:         logrus.StandardLogger(),
		backoffBase: time.Second,
		backoffMax:  8 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit registers a running job for topic and starts it in the background.
// It returns without waiting for the research.
func (r *Runner) Submit(topic string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ctx.Err() != nil {
		return models.Job{}, ErrShuttingDown
	}
	job := r.registry.Create(topic)
	telemetry.JobsSubmitted.Inc()

	r.wg.Add(1)
	go r.run(job)
	return job, nil
}

// Wait stops the runner accepting work and blocks until every submitted job
// has reached a terminal state.
func (r *Runner) Wait() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) run(job models.Job) {
	defer r.wg.Done()
	log := r.log.WithField("job_id", job.ID)
	r.audit(job.ID, models.EventSubmitted, job.Topic)

	capture := logcapture.NewWriter(func(lines []string) {
		if err := r.registry.AppendLogs(job.ID, lines...); err != nil {
			telemetry.LogCaptureErrors.Inc()
			log.WithError(err).Warn("dropping captured log lines")
		}
	})
	var console io.Writer = capture
	if r.echo != nil {
		console = io.MultiWriter(capture, r.echo)
	}

	start := time.Now()
	report, err := r.execute(job, console)
	if err == nil && strings.TrimSpace(report) == "" {
		err = errEmptyReport
	}
	// The researcher may stop mid-line; its tail must not absorb the status line.
	capture.Flush()
	if err != nil {
		fmt.Fprintf(console, "[%s] Error: %v\n", job.ID, err)
	} else {
		fmt.Fprintf(console, "[%s] Research completed!\n", job.ID)
	}
	capture.Flush()

	if err != nil {
		if _, ferr := r.registry.Fail(job.ID, err.Error()); ferr != nil {
			log.WithError(ferr).Error("record failure")
		}
		telemetry.JobsFailed.Inc()
		log.WithError(err).WithField("elapsed", time.Since(start).Round(time.Millisecond)).Warn("research failed")
		r.audit(job.ID, models.EventFailed, err.Error())
		return
	}

	if _, cerr := r.registry.Complete(job.ID, report); cerr != nil {
		log.WithError(cerr).Error("record report")
	}
	telemetry.JobsCompleted.Inc()
	telemetry.JobDuration.Observe(time.Since(start).Seconds())
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("research completed")
	r.audit(job.ID, models.EventCompleted, fmt.Sprintf("report_bytes=%d", len(report)))
	r.store(log, job.ID, report)
}

// execute waits for a slot and runs the researcher, turning a panic into an error.
func (r *Runner) execute(job models.Job, console io.Writer) (report string, err error) {
	if r.sem != nil {
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return "", err
		}
		defer r.sem.Release(1)
	}
	telemetry.JobsRunning.Inc()
	defer telemetry.JobsRunning.Dec()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("research panicked: %v", p)
		}
	}()
	fmt.Fprintf(console, "[%s] Starting research on: %s\n", job.ID, job.Topic)
	return r.researcher.Research(r.ctx, job.Topic, console)
}

// store archives a report, retrying with backoff. Failures are only logged.
func (r *Runner) store(log logrus.FieldLogger, jobID, report string) {
	if r.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), sideEffectLimit)
	defer cancel()

	var err error
	for attempt := 1; attempt <= archiveAttempts; attempt++ {
		var location string
		location, err = r.archive.Store(ctx, jobID, report)
		if err == nil {
			log.WithField("location", location).Info("report archived")
			r.audit(jobID, models.EventArchived, location)
			return
		}
		if attempt == archiveAttempts {
			break
		}
		select {
		case <-ctx.Done():
			log.WithError(ctx.Err()).Warn("archive abandoned")
			return
		case <-time.After(backoffWithJitter(r.backoffBase, r.backoffMax, attempt)):
		}
	}
	log.WithError(err).Warn("archive report")
}

func (r *Runner) audit(jobID, event, detail string) {
	if r.auditor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), sideEffectLimit)
	defer cancel()
	if err := r.auditor.AppendAudit(ctx, jobID, event, detail); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"job_id": jobID, "event": event}).Warn("append audit")
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
