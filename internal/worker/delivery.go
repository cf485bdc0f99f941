// Package worker contains the background delivery loop: the consumer half of
// the transactional outbox. The publish transaction stages delivery tasks;
// this loop claims them in bounded batches, attempts delivery through the
// email transport, and resolves each task exactly once.
//
// Guarantees:
//   - At-least-once: a claimed task is always resolved — delivered, requeued
//     with backoff, or permanently failed. A worker crash mid-claim is healed
//     by the visibility timeout, after which the task is re-claimable.
//   - Claim exclusivity: claiming is a single conditional UPDATE in the
//     database (see repo.ClaimDeliveryTasks); no two loops, in this process
//     or another, ever hold the same task simultaneously.
//   - Backpressure: per-batch fan-out is capped by Concurrency, so the loop
//     never opens unbounded connections against the mail provider.
//
// Errors never propagate upward: the original publish request returned long
// ago, so failures are logged and counted, nothing more.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// Options are the delivery loop's tuning knobs. Zero values fall back to the
// conservative defaults from config.
type Options struct {
	// PollInterval is the pause between claim attempts. <= 0 defaults to 1s.
	PollInterval time.Duration
	// BatchSize caps how many tasks one poll claims. <= 0 defaults to 50.
	BatchSize int
	// Concurrency caps simultaneous in-flight sends. <= 0 defaults to 4.
	Concurrency int
	// MaxAttempts is the retry ceiling before failed_permanently. <= 0 defaults to 5.
	MaxAttempts int
	// BackoffBase seeds the exponential retry backoff. <= 0 defaults to 1s.
	BackoffBase time.Duration
	// BackoffCap bounds the retry backoff. <= 0 defaults to 5m.
	BackoffCap time.Duration
	// ClaimTimeout is the visibility timeout after which an unresolved
	// in_progress claim is treated as abandoned. <= 0 defaults to 5m.
	ClaimTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 5 * time.Minute
	}
	if o.ClaimTimeout <= 0 {
		o.ClaimTimeout = 5 * time.Minute
	}
	return o
}

// Delivery is the long-lived loop draining the issue delivery queue.
type Delivery struct {
	DB        *gorm.DB
	Transport email.Transport
	Logger    zerolog.Logger
	Opts      Options
}

// NewDelivery constructs a Delivery worker with defaults applied.
func NewDelivery(db *gorm.DB, transport email.Transport, lg zerolog.Logger, opts Options) *Delivery {
	return &Delivery{DB: db, Transport: transport, Logger: lg, Opts: opts.withDefaults()}
}

// Run polls until ctx is canceled. It drains one batch immediately on start,
// then on every tick. In-flight sends are waited for before returning.
func (d *Delivery) Run(ctx context.Context) {
	d.Logger.Info().
		Dur("poll_interval", d.Opts.PollInterval).
		Int("batch_size", d.Opts.BatchSize).
		Int("concurrency", d.Opts.Concurrency).
		Msg("delivery worker started")
	defer d.Logger.Info().Msg("delivery worker stopped")

	ticker := time.NewTicker(d.Opts.PollInterval)
	defer ticker.Stop()

	d.DrainOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DrainOnce(ctx)
		}
	}
}

// DrainOnce claims one batch and processes it to completion. Exported so
// callers (and tests) can step the worker deterministically.
func (d *Delivery) DrainOnce(ctx context.Context) {
	tasks, err := repo.ClaimDeliveryTasks(ctx, d.DB, time.Now().UTC(), d.Opts.BatchSize, d.Opts.ClaimTimeout)
	if err != nil {
		d.Logger.Error().Err(err).Msg("claim delivery tasks")
		return
	}
	queueClaimed.Set(float64(len(tasks)))
	if len(tasks) == 0 {
		return
	}

	// Issues repeat across a batch; fetch each once.
	issues := make(map[string]*domain.NewsletterIssue, 1)

	sem := make(chan struct{}, d.Opts.Concurrency)
	var wg sync.WaitGroup
	for i := range tasks {
		task := &tasks[i]

		issue, ok := issues[task.NewsletterIssueID]
		if !ok {
			issue, err = repo.GetIssue(ctx, d.DB, task.NewsletterIssueID)
			if err != nil {
				// Should be impossible: tasks and issues commit together.
				d.resolveFailure(ctx, task, "issue lookup failed: "+err.Error())
				continue
			}
			issues[task.NewsletterIssueID] = issue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliverOne(ctx, task, issue)
		}()
	}
	wg.Wait()
}

// deliverOne attempts one send and resolves the task's claim.
func (d *Delivery) deliverOne(ctx context.Context, task *domain.DeliveryTask, issue *domain.NewsletterIssue) {
	start := time.Now()
	err := d.Transport.Send(ctx, task.SubscriberEmail, issue.Title, issue.HTMLContent, issue.TextContent)
	deliveryDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		if err := repo.MarkTaskDelivered(ctx, d.DB, task.NewsletterIssueID, task.SubscriberEmail); err != nil {
			d.Logger.Error().Err(err).
				Str("issue_id", task.NewsletterIssueID).
				Msg("mark task delivered")
			return
		}
		deliveryAttempts.WithLabelValues(outcomeDelivered).Inc()
		return
	}

	if !email.IsRetryable(err) {
		// Permanent transport rejection: burn the remaining attempts so the
		// task resolves now instead of cycling through doomed retries.
		task.AttemptCount = d.Opts.MaxAttempts - 1
	}
	d.resolveFailure(ctx, task, err.Error())
}

// resolveFailure requeues the task with backoff or fails it permanently.
func (d *Delivery) resolveFailure(ctx context.Context, task *domain.DeliveryTask, reason string) {
	next, err := repo.MarkTaskFailed(ctx, d.DB, task, reason,
		d.Opts.MaxAttempts, d.Opts.BackoffBase, d.Opts.BackoffCap)
	if err != nil {
		d.Logger.Error().Err(err).
			Str("issue_id", task.NewsletterIssueID).
			Msg("mark task failed")
		return
	}
	if next == domain.DeliveryFailed {
		deliveryAttempts.WithLabelValues(outcomeFailed).Inc()
		d.Logger.Error().
			Str("issue_id", task.NewsletterIssueID).
			Str("last_error", reason).
			Int("attempts", task.AttemptCount+1).
			Msg("delivery failed permanently")
		return
	}
	deliveryAttempts.WithLabelValues(outcomeRetried).Inc()
	d.Logger.Warn().
		Str("issue_id", task.NewsletterIssueID).
		Str("last_error", reason).
		Int("attempts", task.AttemptCount+1).
		Msg("delivery attempt failed; requeued")
}
