// Package domain defines the persistence models for subscribers, newsletter
// issues, and the issue delivery queue. These types are mapped with GORM and
// form the core data layer of the newsletter application.
package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// SubscriberStatus values. A subscriber is created as pending and becomes
// confirmed once the emailed token is presented back.
const (
	SubscriberStatusPending   = "pending_confirmation"
	SubscriberStatusConfirmed = "confirmed"
)

// Subscriber represents a person who signed up for the newsletter. Rows are
// created by the public subscribe endpoint in pending_confirmation status and
// promoted to confirmed by the token confirmation endpoint.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: unique address; the natural identity of a subscriber.
//   - Name: display name provided at sign-up.
//   - Status: "pending_confirmation" or "confirmed" (enforced by DB constraint).
//   - SubscribedAt: time of initial sign-up.
type Subscriber struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"         gorm:"type:varchar(320);not null;uniqueIndex:ux_subscribers_email"`
	Name         string    `json:"name"          gorm:"type:varchar(255);not null"`
	Status       string    `json:"status"        gorm:"type:varchar(32);not null;check:status IN ('pending_confirmation','confirmed')"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// TableName returns the database table name for Subscriber.
func (Subscriber) TableName() string { return "subscriptions" }

// SubscriptionToken links an emailed confirmation token to a subscriber.
// Tokens are generated once per subscriber and reused on repeated sign-ups,
// so retrying the subscribe form never invalidates an outstanding email.
type SubscriptionToken struct {
	Token        string `gorm:"type:char(25);primaryKey"`
	SubscriberID string `gorm:"type:char(36);not null;index"`
}

// TableName returns the database table name for SubscriptionToken.
func (SubscriptionToken) TableName() string { return "subscription_tokens" }

// subscriptionTokenLen is the exact length of a confirmation token.
const subscriptionTokenLen = 25

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ParseSubscriptionToken validates a raw confirmation token: exactly 25
// characters, alphanumeric only. It returns the token unchanged on success.
func ParseSubscriptionToken(s string) (string, error) {
	if len(s) != subscriptionTokenLen {
		return "", fmt.Errorf("subscription token must be %d characters", subscriptionTokenLen)
	}
	for _, r := range s {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum {
			return "", fmt.Errorf("subscription token contains invalid character %q", r)
		}
	}
	return s, nil
}

// GenerateSubscriptionToken returns a new random 25-character alphanumeric
// token suitable for confirmation links.
func GenerateSubscriptionToken() string {
	buf := make([]byte, subscriptionTokenLen)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is broken.
			panic(err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf)
}

// NewsletterIssue is a published newsletter edition. Issues are immutable
// after creation; delivery progress lives in the issue_delivery_queue table.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Title: subject line used for outgoing emails.
//   - HTMLContent / TextContent: the two bodies sent to subscribers.
//   - PublishedAt: time the publish transaction committed.
type NewsletterIssue struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:varchar(255);not null"`
	HTMLContent string    `json:"html_content" gorm:"type:text;not null"`
	TextContent string    `json:"text_content" gorm:"type:text;not null"`
	PublishedAt time.Time `json:"published_at"`
}

// TableName returns the database table name for NewsletterIssue.
func (NewsletterIssue) TableName() string { return "newsletter_issues" }

// DeliveryStatus is the closed set of delivery task states. Tasks move
// pending → in_progress → delivered, or back to pending for a retry, or to
// failed_permanently once the attempt ceiling is exhausted.
type DeliveryStatus string

// Delivery task states.
const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryInFlight  DeliveryStatus = "in_progress"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed_permanently"
)

// Valid reports whether s is one of the four known delivery states.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryInFlight, DeliveryDelivered, DeliveryFailed:
		return true
	}
	return false
}

// DeliveryTask is one unit of outbound work: "send this issue to this
// subscriber". The (issue, email) pair is the natural deduplication key, so
// enqueueing is idempotent by construction. Tasks are never deleted; a
// resolved row is the audit record that the attempt happened.
//
// Fields:
//   - NewsletterIssueID / SubscriberEmail: composite unique key.
//   - Status: see DeliveryStatus.
//   - AttemptCount: number of completed send attempts.
//   - LastError: message from the most recent failed attempt, if any.
//   - ClaimedAt / ClaimedBy: when and by which worker loop the current
//     in_progress claim was taken; claims older than the visibility timeout
//     are considered abandoned and re-claimable.
//   - NextAttemptAt: earliest time a requeued task may be claimed again.
type DeliveryTask struct {
	NewsletterIssueID string         `json:"newsletter_issue_id" gorm:"type:char(36);primaryKey"`
	SubscriberEmail   string         `json:"subscriber_email"    gorm:"type:varchar(320);primaryKey"`
	Status            DeliveryStatus `json:"status"              gorm:"type:varchar(32);not null;index;check:status IN ('pending','in_progress','delivered','failed_permanently')"`
	AttemptCount      int            `json:"attempt_count"       gorm:"not null;default:0"`
	LastError         string         `json:"last_error,omitempty"`
	ClaimedAt         *time.Time     `json:"claimed_at,omitempty"`
	ClaimedBy         string         `json:"claimed_by,omitempty" gorm:"type:char(36);index"`
	NextAttemptAt     *time.Time     `json:"next_attempt_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName returns the database table name for DeliveryTask.
func (DeliveryTask) TableName() string { return "issue_delivery_queue" }
