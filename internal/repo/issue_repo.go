// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// NewsletterIssue model. Issues are written inside the publish transaction
// and are immutable afterwards.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// CreateIssue inserts a newsletter issue. Callers pass the transaction handle
// obtained from BeginIdempotent so the issue, its delivery tasks, and the
// saved response commit atomically.
func CreateIssue(ctx context.Context, tx *gorm.DB, title, htmlContent, textContent string) (*domain.NewsletterIssue, error) {
	issue := &domain.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       title,
		HTMLContent: htmlContent,
		TextContent: textContent,
		PublishedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(issue).Error; err != nil {
		return nil, err
	}
	return issue, nil
}

// GetIssue fetches an issue by ID, or ErrNotFound.
func GetIssue(ctx context.Context, db *gorm.DB, id string) (*domain.NewsletterIssue, error) {
	var issue domain.NewsletterIssue
	err := db.WithContext(ctx).Where("id = ?", id).First(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// CountIssues returns the total number of published issues.
func CountIssues(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.NewsletterIssue{}).Count(&total).Error
	return total, err
}

// ListIssuesPage returns a page of issues ordered by publish time descending.
func ListIssuesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NewsletterIssue, error) {
	var out []domain.NewsletterIssue
	err := db.WithContext(ctx).
		Order("published_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
