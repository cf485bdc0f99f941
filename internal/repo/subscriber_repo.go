// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Subscriber
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a subscriber is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateSubscriber inserts a new subscriber in pending_confirmation status.
// The subscriber ID is a randomly generated UUID and SubscribedAt is UTC now.
func CreateSubscriber(ctx context.Context, db *gorm.DB, email, name string) (*domain.Subscriber, error) {
	s := &domain.Subscriber{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Status:       domain.SubscriberStatusPending,
		SubscribedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSubscriberByEmail fetches a subscriber by email, or ErrNotFound.
func GetSubscriberByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Subscriber, error) {
	var s domain.Subscriber
	err := db.WithContext(ctx).Where("email = ?", email).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ConfirmSubscriber marks the subscriber as confirmed. Confirming an already
// confirmed subscriber is a no-op rather than an error, so confirmation links
// stay safe to click twice.
func ConfirmSubscriber(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("id = ?", id).
		Update("status", domain.SubscriberStatusConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSubscribers returns the total number of subscribers, optionally
// filtered by status ("" counts all).
func CountSubscribers(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Subscriber{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListSubscribersPage returns a page of subscribers ordered by sign-up time
// descending. Use CountSubscribers to obtain the total for pagination metadata.
func ListSubscribersPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Subscriber, error) {
	q := db.WithContext(ctx).Order("subscribed_at desc").Offset(offset).Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Subscriber
	err := q.Find(&out).Error
	return out, err
}
