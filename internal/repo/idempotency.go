// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the idempotency store used to make the
// newsletter publish endpoint safe to retry.
//
// The store is built around two operations:
//
//   - BeginIdempotent: the begin-or-replay gate. The very first thing a
//     handler does is attempt to insert a reservation row for (user, key)
//     inside a fresh transaction. The unique index on (user_id, key) makes
//     that insert the single-winner gate: exactly one concurrent request
//     proceeds with an open transaction; every other request either replays
//     the saved response or waits, with bounded backoff, for the winner to
//     commit.
//
//   - SaveIdempotentResponse: writes the response columns into the reserved
//     row as part of the same transaction that performed the side effects.
//     Committing that transaction is the single atomic point at which the
//     work and its replayable response become visible together.
//
// Crash recovery: a reservation whose winner died before committing is left
// with no response columns. Such rows stop blocking retries once they are
// older than the stale horizon — the loser deletes the carcass (conditionally,
// so a live winner is never evicted) and takes the reservation over.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// ErrProcessing is returned when another request holds the reservation for
// this key and did not complete within the caller's wait budget. The client
// should retry later; no side effects were performed on its behalf.
var ErrProcessing = errors.New("request with this idempotency key is still processing")

// WaitOptions bounds how long a losing request waits for the winner.
type WaitOptions struct {
	// WaitMax caps the total time spent polling for the winner's commit.
	// Values <= 0 default to 5s.
	WaitMax time.Duration
	// PollEvery is the interval between polls. Values <= 0 default to 100ms.
	PollEvery time.Duration
	// StaleAfter is the age past which an incomplete reservation is treated
	// as abandoned (winner crashed before commit) and may be taken over.
	// Values <= 0 default to 5m.
	StaleAfter time.Duration
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.WaitMax <= 0 {
		o.WaitMax = 5 * time.Second
	}
	if o.PollEvery <= 0 {
		o.PollEvery = 100 * time.Millisecond
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	return o
}

// NextAction is the outcome of BeginIdempotent: either an open transaction to
// perform the work in (Tx != nil), or a previously saved response to return
// verbatim (Saved != nil). Exactly one of the two is set.
type NextAction struct {
	Tx    *gorm.DB
	Saved *domain.StoredResponse
}

// StartProcessing reports whether the caller won the reservation and must
// execute the business logic inside n.Tx.
func (n NextAction) StartProcessing() bool { return n.Tx != nil }

// BeginIdempotent reserves (userID, key) or replays the saved response.
//
// On the winning path the returned NextAction carries an open transaction
// with the reservation row already inserted; the caller must finish with
// SaveIdempotentResponse + Commit, or Rollback on failure. On the replay path
// the transaction has been discarded and Saved holds the byte-exact first
// response. If the winner is still in flight the call polls until it commits
// or the wait budget runs out (ErrProcessing).
func BeginIdempotent(ctx context.Context, db *gorm.DB, userID, key string, opts WaitOptions) (NextAction, error) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.WaitMax)

	for {
		tx := db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return NextAction{}, tx.Error
		}

		err := tx.Create(&domain.IdempotencyRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Key:       key,
			CreatedAt: time.Now().UTC(),
		}).Error
		if err == nil {
			return NextAction{Tx: tx}, nil
		}
		tx.Rollback()
		if !isUniqueViolation(err) {
			return NextAction{}, err
		}

		// Lost the insert race: a record exists. Wait for it to complete.
		for {
			var rec domain.IdempotencyRecord
			err := db.WithContext(ctx).
				Where("user_id = ? AND key = ?", userID, key).
				First(&rec).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				// Winner rolled back; the key is free again.
			case err != nil:
				return NextAction{}, err
			case rec.Completed():
				saved, err := rec.Response()
				if err != nil {
					return NextAction{}, err
				}
				return NextAction{Saved: saved}, nil
			case time.Since(rec.CreatedAt) > opts.StaleAfter:
				// Abandoned reservation. Evict it conditionally: the guard on
				// response_status and created_at means a live winner that
				// completes concurrently is never deleted.
				res := db.WithContext(ctx).
					Where("user_id = ? AND key = ? AND response_status = 0 AND created_at = ?",
						userID, key, rec.CreatedAt).
					Delete(&domain.IdempotencyRecord{})
				if res.Error != nil {
					return NextAction{}, res.Error
				}
			default:
				if time.Now().After(deadline) {
					return NextAction{}, ErrProcessing
				}
				select {
				case <-ctx.Done():
					return NextAction{}, ctx.Err()
				case <-time.After(opts.PollEvery):
				}
				continue
			}
			break // re-attempt the reservation insert
		}

		if time.Now().After(deadline) {
			return NextAction{}, ErrProcessing
		}
	}
}

// SaveIdempotentResponse writes the response columns into the reservation row
// inside the caller's transaction. The caller's commit publishes the replay
// value; a rollback leaves the reservation behind as a crash-recovery case.
func SaveIdempotentResponse(ctx context.Context, tx *gorm.DB, userID, key string, resp *domain.StoredResponse) error {
	if resp.Status == 0 {
		return errors.New("response status cannot be zero")
	}
	headers, err := domain.EncodeHeaders(resp.Headers)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res := tx.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("user_id = ? AND key = ? AND response_status = 0", userID, key).
		Updates(map[string]any{
			"response_status":  resp.Status,
			"response_headers": headers,
			"response_body":    resp.Body,
			"completed_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HasCompletedResponse reports whether a completed response is already stored
// for (userID, key). Used by the HTTP idempotency middleware to flag replays
// so the rate limiter can wave them through.
func HasCompletedResponse(ctx context.Context, db *gorm.DB, userID, key string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("user_id = ? AND key = ? AND response_status <> 0", userID, key).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
