package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// newServiceDB opens a throwaway file-backed SQLite DB with the full schema.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svc.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// recordingTransport captures sent messages and can be scripted to fail.
type recordingTransport struct {
	recipients []string
	subjects   []string
	htmlBodies []string
	textBodies []string
	err        error
}

func (r *recordingTransport) Send(_ context.Context, recipient, subject, htmlBody, textBody string) error {
	if r.err != nil {
		return r.err
	}
	r.recipients = append(r.recipients, recipient)
	r.subjects = append(r.subjects, subject)
	r.htmlBodies = append(r.htmlBodies, htmlBody)
	r.textBodies = append(r.textBodies, textBody)
	return nil
}

func newSubscriptionService(t *testing.T) (*SubscriptionService, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	return &SubscriptionService{
		DB:        newServiceDB(t),
		Transport: tr,
		BaseURL:   "https://news.example.com/",
	}, tr
}

func TestSubscribe_RejectsInvalidEmail(t *testing.T) {
	svc, tr := newSubscriptionService(t)

	for _, addr := range []string{"", "plainaddress", "two@@example.com", "a b@example.com", "no-domain@", "@no-local.com", "no-tld@host"} {
		if _, err := svc.Subscribe(context.Background(), addr, "Jane Doe"); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("Subscribe(%q): err = %v, want ErrInvalidEmail", addr, err)
		}
	}
	if len(tr.recipients) != 0 {
		t.Fatalf("no email should be sent on validation failure")
	}
}

func TestSubscribe_RejectsInvalidName(t *testing.T) {
	svc, _ := newSubscriptionService(t)

	bad := []string{
		"",
		"   ",
		`Robert"); DROP`,
		"<script>",
		"a/b",
		"{curly}",
		strings.Repeat("x", 257),
	}
	for _, name := range bad {
		if _, err := svc.Subscribe(context.Background(), "jane@example.com", name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Subscribe(name=%q): err = %v, want ErrInvalidName", name, err)
		}
	}

	// 256 runes is the inclusive maximum.
	if _, err := svc.Subscribe(context.Background(), "max@example.com", strings.Repeat("y", 256)); err != nil {
		t.Fatalf("256-rune name should be accepted: %v", err)
	}
}

func TestSubscribe_PersistsPendingAndSendsConfirmation(t *testing.T) {
	svc, tr := newSubscriptionService(t)

	sub, err := svc.Subscribe(context.Background(), "  jane@example.com ", " Jane Doe ")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.Email != "jane@example.com" || sub.Name != "Jane Doe" {
		t.Fatalf("input not trimmed: %+v", sub)
	}
	if sub.Status != domain.SubscriberStatusPending {
		t.Fatalf("status = %q, want pending_confirmation", sub.Status)
	}

	stored, err := repo.GetSubscriberByEmail(context.Background(), svc.DB, "jane@example.com")
	if err != nil {
		t.Fatalf("subscriber not persisted: %v", err)
	}
	token, err := repo.GetTokenForSubscriber(context.Background(), svc.DB, stored.ID)
	if err != nil {
		t.Fatalf("token not persisted: %v", err)
	}

	if len(tr.recipients) != 1 || tr.recipients[0] != "jane@example.com" {
		t.Fatalf("confirmation recipients = %v", tr.recipients)
	}
	link := fmt.Sprintf("https://news.example.com/subscriptions/confirm?subscription_token=%s", token)
	if !strings.Contains(tr.htmlBodies[0], link) {
		t.Fatalf("html body missing confirmation link %q:\n%s", link, tr.htmlBodies[0])
	}
	if !strings.Contains(tr.textBodies[0], link) {
		t.Fatalf("text body missing confirmation link %q:\n%s", link, tr.textBodies[0])
	}
}

func TestSubscribe_RepeatReusesSubscriberAndToken(t *testing.T) {
	svc, tr := newSubscriptionService(t)

	first, err := svc.Subscribe(context.Background(), "jane@example.com", "Jane")
	if err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	second, err := svc.Subscribe(context.Background(), "jane@example.com", "Jane")
	if err != nil {
		t.Fatalf("second Subscribe: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeat sign-up created new subscriber: %s vs %s", first.ID, second.ID)
	}

	var count int64
	if err := svc.DB.Model(&domain.SubscriptionToken{}).Count(&count).Error; err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 1 {
		t.Fatalf("token count = %d, want 1 (token reused)", count)
	}

	if len(tr.htmlBodies) != 2 || tr.htmlBodies[0] != tr.htmlBodies[1] {
		t.Fatalf("both emails should carry the same confirmation link")
	}
}

func TestSubscribe_TransportFailureKeepsSubscriber(t *testing.T) {
	svc, tr := newSubscriptionService(t)
	tr.err = errors.New("smtp down")

	sub, err := svc.Subscribe(context.Background(), "jane@example.com", "Jane")
	if !errors.Is(err, ErrConfirmationEmail) {
		t.Fatalf("err = %v, want ErrConfirmationEmail", err)
	}
	if sub == nil || sub.Email != "jane@example.com" {
		t.Fatalf("subscriber should still be returned, got %+v", sub)
	}
	if _, err := repo.GetSubscriberByEmail(context.Background(), svc.DB, "jane@example.com"); err != nil {
		t.Fatalf("subscription should survive the email failure: %v", err)
	}

	// Retrying after the transport recovers just resends the same link.
	tr.err = nil
	if _, err := svc.Subscribe(context.Background(), "jane@example.com", "Jane"); err != nil {
		t.Fatalf("retry Subscribe: %v", err)
	}
	if len(tr.recipients) != 1 {
		t.Fatalf("retry should send exactly one email, got %d", len(tr.recipients))
	}
}

func TestConfirm_PromotesSubscriber(t *testing.T) {
	svc, _ := newSubscriptionService(t)

	sub, err := svc.Subscribe(context.Background(), "jane@example.com", "Jane")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	token, err := repo.GetTokenForSubscriber(context.Background(), svc.DB, sub.ID)
	if err != nil {
		t.Fatalf("fetch token: %v", err)
	}

	if err := svc.Confirm(context.Background(), token); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	stored, err := repo.GetSubscriberByEmail(context.Background(), svc.DB, "jane@example.com")
	if err != nil {
		t.Fatalf("fetch subscriber: %v", err)
	}
	if stored.Status != domain.SubscriberStatusConfirmed {
		t.Fatalf("status = %q, want confirmed", stored.Status)
	}

	// Clicking the link twice is harmless.
	if err := svc.Confirm(context.Background(), token); err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
}

func TestConfirm_TokenErrors(t *testing.T) {
	svc, _ := newSubscriptionService(t)

	for _, raw := range []string{"", "short", strings.Repeat("a", 26), "has spaces in the token!!"} {
		if err := svc.Confirm(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Confirm(%q): err = %v, want ErrInvalidToken", raw, err)
		}
	}

	unknown := domain.GenerateSubscriptionToken()
	if err := svc.Confirm(context.Background(), unknown); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("Confirm(unknown): err = %v, want ErrTokenNotFound", err)
	}
}
