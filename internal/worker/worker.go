// Package worker runs the crawl job processing loops: claim a queued
// job, execute it, and record the terminal state.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
	"github.com/mthorsley/wikigraph-crawler/internal/metrics"
)

// Orchestrator executes one claimed job.
type Orchestrator interface {
	Run(ctx context.Context, job crawler.Job) error
}

// Config sizes the pool.
type Config struct {
	// Concurrency is the number of claim loops.
	Concurrency int
	// PollInterval is the sleep between empty-queue polls.
	PollInterval time.Duration
	// MaxInFlight caps jobs executing at once across all loops.
	MaxInFlight int
	// EventTopic receives job lifecycle events.
	EventTopic string
}

// Pool claims jobs from the ledger and dispatches them to the
// orchestrator.
type Pool struct {
	ledger crawler.JobLedger
	orch   Orchestrator
	events crawler.Publisher
	sem    *semaphore.Weighted
	cfg    Config
	logger *zap.Logger
}

// New builds a Pool.
func New(ledger crawler.JobLedger, orch Orchestrator, events crawler.Publisher, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = cfg.Concurrency
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = "job-events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		ledger: ledger,
		orch:   orch,
		events: events,
		sem:    semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		cfg:    cfg,
		logger: logger,
	}
}

// Run starts the claim loops and blocks until ctx is cancelled and all
// in-flight jobs finish.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.loop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, worker int) {
	logger := p.logger.With(zap.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := p.ledger.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if !ok {
			p.sleep(ctx)
			continue
		}
		p.process(ctx, logger, job)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}

func (p *Pool) process(ctx context.Context, logger *zap.Logger, job crawler.Job) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()
	metrics.JobClaimed()

	logger = logger.With(zap.Int64("page_id", job.PageID))

	// The claim and the start of work are not atomic from the ledger's
	// point of view. A cancel landing in between flips the status, so
	// revalidate before doing anything.
	current, found, err := p.ledger.GetJob(ctx, job.PageID)
	if err != nil {
		logger.Error("revalidate claim failed", zap.Error(err))
		return
	}
	if !found || current.Status != crawler.JobStatusRunning {
		logger.Info("claim superseded, skipping", zap.String("status", string(current.Status)))
		return
	}

	p.publish(ctx, logger, job.PageID, "claimed", "")

	if err := p.orch.Run(ctx, job); err != nil {
		logger.Error("job failed", zap.Error(err))
		p.failJob(ctx, logger, job.PageID, err)
		p.publish(ctx, logger, job.PageID, "error", err.Error())
		metrics.JobFinished(string(crawler.JobStatusError))
		return
	}

	p.finishJob(ctx, logger, job.PageID)
}

// failJob records the failure unless the job was cancelled mid-run.
func (p *Pool) failJob(ctx context.Context, logger *zap.Logger, pageID int64, runErr error) {
	current, found, err := p.ledger.GetJob(ctx, pageID)
	if err != nil || !found || current.Status != crawler.JobStatusRunning {
		return
	}
	if err := p.ledger.MarkError(ctx, pageID, runErr.Error()); err != nil {
		logger.Error("record failure failed", zap.Error(err))
	}
}

// finishJob marks the job done unless its status changed underneath us.
func (p *Pool) finishJob(ctx context.Context, logger *zap.Logger, pageID int64) {
	current, found, err := p.ledger.GetJob(ctx, pageID)
	if err != nil {
		logger.Error("reconcile failed", zap.Error(err))
		return
	}
	if !found || current.Status != crawler.JobStatusRunning {
		logger.Info("job no longer running, leaving status", zap.String("status", string(current.Status)))
		return
	}
	if err := p.ledger.MarkDone(ctx, pageID); err != nil {
		logger.Error("mark done failed", zap.Error(err))
		return
	}
	p.publish(ctx, logger, pageID, "done", "")
	metrics.JobFinished(string(crawler.JobStatusDone))
	logger.Info("job done")
}

// publish sends a lifecycle event. Event delivery is best effort.
func (p *Pool) publish(ctx context.Context, logger *zap.Logger, pageID int64, event, detail string) {
	if p.events == nil {
		return
	}
	payload := map[string]any{
		"page_id": pageID,
		"event":   event,
		"at":      time.Now().UTC().Format(time.RFC3339),
	}
	if detail != "" {
		payload["detail"] = detail
	}
	if _, err := p.events.Publish(ctx, p.cfg.EventTopic, payload); err != nil {
		logger.Warn("publish event failed", zap.String("event", event), zap.Error(err))
	}
}
