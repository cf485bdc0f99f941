// Package services – NewsletterService
//
// This file implements the publish coordinator: the component that turns an
// authenticated "publish this newsletter issue" request into exactly one
// stored issue, one delivery task per confirmed subscriber, and one saved,
// replayable HTTP response — all inside a single transaction.
//
// The commit of that transaction is the only point at which "issue exists",
// "tasks exist", and "response is replayable" become visible, and they become
// visible together. A crash before commit leaves none of the three behind; a
// retry with the same idempotency key then simply starts over. A crash after
// commit leaves all three, and every retry replays the saved response without
// touching state again.
package services

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// PublishRedirectPath is where a successful publish points the client.
const PublishRedirectPath = "/admin/newsletters"

// publishAcceptedBody is the stored response body. Kept as a constant so the
// first response and every replay are byte-identical by construction.
var publishAcceptedBody = []byte(`{"status":"accepted","message":"The newsletter issue has been accepted - emails will go out shortly."}`)

// PublishResult is the outcome of a publish call: the response to write
// (either freshly computed or replayed) and whether it was a replay.
type PublishResult struct {
	Response *domain.StoredResponse
	Replayed bool
}

// NewsletterService coordinates idempotent newsletter publishing.
type NewsletterService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Wait bounds how long a losing request waits for a concurrent winner.
	Wait repo.WaitOptions
}

// Publish runs the idempotent publish state machine for (userID, rawKey).
//
// Steps: validate the key syntactically (no transaction on failure); begin or
// replay via the idempotency store; on the winning path insert the issue,
// stage one delivery task per confirmed subscriber with a single set-based
// insert, save the response into the reservation, and commit.
//
// Zero confirmed subscribers is a valid degenerate publish: the issue commits
// with an empty delivery queue. Requests with different keys but identical
// content are independent issues — deduplication is strictly by key.
func (s *NewsletterService) Publish(ctx context.Context, userID, rawKey, title, htmlContent, textContent string) (*PublishResult, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	key, err := domain.ParseIdempotencyKey(rawKey)
	if err != nil {
		return nil, ErrInvalidIdempotencyKey
	}
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if htmlContent == "" || textContent == "" {
		return nil, ErrEmptyContent
	}

	next, err := repo.BeginIdempotent(ctx, s.DB, userID, key, s.Wait)
	if err != nil {
		return nil, err
	}
	if !next.StartProcessing() {
		log.Info().
			Str("user_id", userID).
			Msg("newsletter publish already processed; replaying saved response")
		return &PublishResult{Response: next.Saved, Replayed: true}, nil
	}

	tx := next.Tx
	issue, err := repo.CreateIssue(ctx, tx, title, htmlContent, textContent)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	span.SetAttributes(attribute.String("issue.id", issue.ID))

	staged, err := repo.EnqueueDeliveryTasks(ctx, tx, issue.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	resp := &domain.StoredResponse{
		Status: http.StatusSeeOther,
		Headers: []domain.HeaderPair{
			{Name: "Location", Value: PublishRedirectPath},
			{Name: "Content-Type", Value: "application/json; charset=utf-8"},
		},
		Body: publishAcceptedBody,
	}
	if err := repo.SaveIdempotentResponse(ctx, tx, userID, key, resp); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Str("issue_id", issue.ID).
		Int64("tasks_staged", staged).
		Msg("newsletter issue published")
	return &PublishResult{Response: resp, Replayed: false}, nil
}

// Stats returns the delivery status breakdown for one issue.
func (s *NewsletterService) Stats(ctx context.Context, issueID string) (*domain.NewsletterIssue, map[string]int64, error) {
	issue, err := repo.GetIssue(ctx, s.DB, issueID)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, nil, ErrIssueNotFound
		}
		return nil, nil, err
	}
	stats, err := repo.DeliveryStats(ctx, s.DB, issueID)
	if err != nil {
		return nil, nil, err
	}
	return issue, stats, nil
}

// ListIssuesPage returns a page of published issues plus the total count.
func (s *NewsletterService) ListIssuesPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountIssues(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.NewsletterIssue{}, 0, nil
	}
	items, err := repo.ListIssuesPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}
