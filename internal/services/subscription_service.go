// Package services – SubscriptionService
//
// This file implements SubscriptionService, the application-level component
// that owns the double opt-in sign-up flow. It validates inputs, persists the
// subscriber and their confirmation token atomically, and sends the
// confirmation email through the configured transport.
//
// Re-subscribing is deliberately idempotent: an existing subscriber and an
// outstanding token are reused, so retrying the form never invalidates a
// confirmation link that is already sitting in someone's inbox.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// subscriber identifiers where applicable.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// emailPattern is a pragmatic shape check: one @, no spaces, non-empty local
// and domain parts. Deliverability is proven by the confirmation email, not
// by the regex.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// forbiddenNameChars are rejected in subscriber names to keep stored values
// safe for templating into emails and admin pages.
const forbiddenNameChars = `/()"<>\{}`

const maxNameRunes = 256

// SubscriptionService coordinates subscriber persistence and the
// confirmation-email handshake.
type SubscriptionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Transport delivers the confirmation email.
	Transport email.Transport
	// BaseURL is the public application root used to build confirmation links.
	BaseURL string
}

// Subscribe validates the form input, stores the subscriber (pending
// confirmation) together with their token in one transaction, and then sends
// the confirmation email. The returned subscriber reflects the stored row.
func (s *SubscriptionService) Subscribe(ctx context.Context, emailAddr, name string) (*domain.Subscriber, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Subscribe")
	defer span.End()

	emailAddr = strings.TrimSpace(emailAddr)
	name = strings.TrimSpace(name)
	if !emailPattern.MatchString(emailAddr) {
		return nil, ErrInvalidEmail
	}
	if name == "" || utf8.RuneCountInString(name) > maxNameRunes || strings.ContainsAny(name, forbiddenNameChars) {
		return nil, ErrInvalidName
	}

	var (
		sub   *domain.Subscriber
		token string
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := repo.GetSubscriberByEmail(ctx, tx, emailAddr)
		switch {
		case err == nil:
			sub = existing
		case errors.Is(err, repo.ErrNotFound):
			sub, err = repo.CreateSubscriber(ctx, tx, emailAddr, name)
			if err != nil {
				return fmt.Errorf("insert subscriber: %w", err)
			}
		default:
			return fmt.Errorf("look up subscriber: %w", err)
		}

		token, err = repo.GetTokenForSubscriber(ctx, tx, sub.ID)
		if errors.Is(err, repo.ErrNotFound) {
			token = domain.GenerateSubscriptionToken()
			if err := repo.StoreToken(ctx, tx, sub.ID, token); err != nil {
				return fmt.Errorf("store subscription token: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("look up subscription token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("subscriber.id", sub.ID))

	if err := s.sendConfirmationEmail(ctx, sub, token); err != nil {
		// The subscription is committed; only the handshake email failed.
		return sub, fmt.Errorf("%w: %v", ErrConfirmationEmail, err)
	}
	return sub, nil
}

// Confirm promotes the subscriber that the token was issued for to confirmed
// status. Unknown tokens yield ErrTokenNotFound; malformed ones ErrInvalidToken.
func (s *SubscriptionService) Confirm(ctx context.Context, rawToken string) error {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Confirm")
	defer span.End()

	token, err := domain.ParseSubscriptionToken(rawToken)
	if err != nil {
		return ErrInvalidToken
	}

	subscriberID, err := repo.GetSubscriberIDFromToken(ctx, s.DB, token)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrTokenNotFound
	}
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("subscriber.id", subscriberID))

	if err := repo.ConfirmSubscriber(ctx, s.DB, subscriberID); err != nil {
		return fmt.Errorf("confirm subscriber: %w", err)
	}
	return nil
}

// sendConfirmationEmail delivers the double opt-in handshake message.
func (s *SubscriptionService) sendConfirmationEmail(ctx context.Context, sub *domain.Subscriber, token string) error {
	ctx, span := otel.Tracer("services/SubscriptionService").
		Start(ctx, "sendConfirmationEmail", trace.WithAttributes(
			attribute.String("subscriber.id", sub.ID),
		))
	defer span.End()

	link := fmt.Sprintf("%s/subscriptions/confirm?subscription_token=%s",
		strings.TrimRight(s.BaseURL, "/"), token)
	htmlBody := fmt.Sprintf(
		`<p>Welcome to our newsletter!</p><p><a href="%s">Click here</a> to confirm your subscription.</p>`, link)
	textBody := fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link)

	return s.Transport.Send(ctx, sub.Email, "Welcome!", htmlBody, textBody)
}
