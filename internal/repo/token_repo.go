// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for subscription
// confirmation tokens.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// GetTokenForSubscriber returns the existing confirmation token for a
// subscriber, or ErrNotFound. Tokens are reused across repeated sign-ups so
// an earlier confirmation email never goes stale.
func GetTokenForSubscriber(ctx context.Context, db *gorm.DB, subscriberID string) (string, error) {
	var t domain.SubscriptionToken
	err := db.WithContext(ctx).Where("subscriber_id = ?", subscriberID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return t.Token, nil
}

// StoreToken persists a confirmation token for the subscriber.
func StoreToken(ctx context.Context, db *gorm.DB, subscriberID, token string) error {
	return db.WithContext(ctx).Create(&domain.SubscriptionToken{
		Token:        token,
		SubscriberID: subscriberID,
	}).Error
}

// GetSubscriberIDFromToken resolves a confirmation token to the subscriber it
// was issued for, or ErrNotFound when the token is unknown.
func GetSubscriberIDFromToken(ctx context.Context, db *gorm.DB, token string) (string, error) {
	var t domain.SubscriptionToken
	err := db.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return t.SubscriberID, nil
}
