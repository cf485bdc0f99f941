// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the issue
// delivery queue: the transactional producer side (set-based enqueue inside
// the publish transaction) and the consumer side used by the delivery worker
// (claim, resolve, requeue).
//
// Concurrency model: the database is the only synchronization primitive.
// Claiming is a single conditional UPDATE tagging rows with a per-batch claim
// ID, so concurrent workers can never process the same task twice. A claim
// that is never resolved (worker crash) becomes re-claimable once its
// claimed_at falls behind the visibility timeout.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// EnqueueDeliveryTasks stages one delivery task per currently-confirmed
// subscriber for the given issue, as a single set-based insert. It must be
// called with the same transaction that created the issue. The composite
// primary key makes the insert idempotent: conflicting rows are skipped, not
// duplicated. Returns the number of tasks staged.
func EnqueueDeliveryTasks(ctx context.Context, tx *gorm.DB, issueID string) (int64, error) {
	now := time.Now().UTC()
	res := tx.WithContext(ctx).Exec(`
		INSERT INTO issue_delivery_queue
			(newsletter_issue_id, subscriber_email, status, attempt_count, last_error, claimed_by, created_at, updated_at)
		SELECT ?, email, ?, 0, '', '', ?, ?
		FROM subscriptions
		WHERE status = ?
		ON CONFLICT (newsletter_issue_id, subscriber_email) DO NOTHING`,
		issueID, string(domain.DeliveryPending), now, now, domain.SubscriberStatusConfirmed,
	)
	return res.RowsAffected, res.Error
}

// ClaimDeliveryTasks atomically claims up to limit due tasks and returns them.
//
// A task is due when it is pending and its next_attempt_at backoff (if any)
// has elapsed, or when it is in_progress but its claim is older than
// claimTimeout (abandoned by a crashed worker). Claimed rows are tagged with
// a fresh claim ID in one conditional UPDATE; the follow-up SELECT by that
// tag is what makes the claim set exact under concurrent workers.
func ClaimDeliveryTasks(ctx context.Context, db *gorm.DB, now time.Time, limit int, claimTimeout time.Duration) ([]domain.DeliveryTask, error) {
	if limit <= 0 {
		limit = 50
	}
	claimID := uuid.NewString()
	cutoff := now.Add(-claimTimeout)

	res := db.WithContext(ctx).Exec(`
		UPDATE issue_delivery_queue
		SET status = ?, claimed_at = ?, claimed_by = ?, updated_at = ?
		WHERE rowid IN (
			SELECT rowid FROM issue_delivery_queue
			WHERE (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
			   OR (status = ? AND claimed_at <= ?)
			ORDER BY created_at ASC
			LIMIT ?
		)`,
		string(domain.DeliveryInFlight), now, claimID, now,
		string(domain.DeliveryPending), now,
		string(domain.DeliveryInFlight), cutoff,
		limit,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var tasks []domain.DeliveryTask
	err := db.WithContext(ctx).
		Where("claimed_by = ? AND status = ?", claimID, domain.DeliveryInFlight).
		Order("created_at asc").
		Find(&tasks).Error
	return tasks, err
}

// MarkTaskDelivered resolves a claimed task as delivered. This transition is
// the sole authority for "this subscriber got this issue".
func MarkTaskDelivered(ctx context.Context, db *gorm.DB, issueID, email string) error {
	res := db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ? AND subscriber_email = ? AND status = ?",
			issueID, email, domain.DeliveryInFlight).
		Updates(map[string]any{
			"status":        string(domain.DeliveryDelivered),
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    "",
			"claimed_at":    nil,
			"claimed_by":    "",
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTaskFailed records a failed send attempt on a claimed task. While the
// attempt ceiling has not been reached the task is requeued as pending with
// an exponential backoff (base × 2^attempts, capped); once attempts reach
// maxAttempts it transitions to failed_permanently and is excluded from all
// future claims.
func MarkTaskFailed(ctx context.Context, db *gorm.DB, task *domain.DeliveryTask, sendErr string, maxAttempts int, backoffBase, backoffCap time.Duration) (domain.DeliveryStatus, error) {
	attempts := task.AttemptCount + 1
	now := time.Now().UTC()

	updates := map[string]any{
		"attempt_count": attempts,
		"last_error":    sendErr,
		"claimed_at":    nil,
		"claimed_by":    "",
		"updated_at":    now,
	}

	next := domain.DeliveryPending
	if attempts >= maxAttempts {
		next = domain.DeliveryFailed
		updates["next_attempt_at"] = nil
	} else {
		retryAt := now.Add(backoffDelay(attempts, backoffBase, backoffCap))
		updates["next_attempt_at"] = retryAt
	}
	updates["status"] = string(next)

	res := db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ? AND subscriber_email = ? AND status = ?",
			task.NewsletterIssueID, task.SubscriberEmail, domain.DeliveryInFlight).
		Updates(updates)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", ErrNotFound
	}
	return next, nil
}

// backoffDelay computes base × 2^attempts capped at max. Attempts are clamped
// to keep the shift well-defined for pathological counters.
func backoffDelay(attempts int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 30 {
		attempts = 30
	}
	d := base << uint(attempts)
	if max > 0 && (d > max || d <= 0) {
		d = max
	}
	return d
}

// DeliveryStats returns a status → count map for one issue's delivery queue.
// All four states are always present so callers can render complete progress.
func DeliveryStats(ctx context.Context, db *gorm.DB, issueID string) (map[string]int64, error) {
	rows, err := db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Select("status, COUNT(*) as n").
		Where("newsletter_issue_id = ?", issueID).
		Group("status").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int64{
		string(domain.DeliveryPending):   0,
		string(domain.DeliveryInFlight):  0,
		string(domain.DeliveryDelivered): 0,
		string(domain.DeliveryFailed):    0,
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[status] = n
	}
	return stats, rows.Err()
}
