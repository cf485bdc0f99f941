package domain

import (
	"strings"
	"testing"
)

func TestParseSubscriptionToken_Valid(t *testing.T) {
	tok := strings.Repeat("a", 20) + "XYZ09"
	got, err := ParseSubscriptionToken(tok)
	if err != nil {
		t.Fatalf("ParseSubscriptionToken(%q): %v", tok, err)
	}
	if got != tok {
		t.Fatalf("token changed by parsing: %q -> %q", tok, got)
	}
}

func TestParseSubscriptionToken_Rejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"too short", strings.Repeat("a", 24)},
		{"too long", strings.Repeat("a", 26)},
		{"space", strings.Repeat("a", 24) + " "},
		{"punctuation", strings.Repeat("a", 24) + "!"},
		{"unicode", strings.Repeat("a", 24) + "é"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := ParseSubscriptionToken(c.in); err == nil {
				t.Fatalf("expected rejection for %q", c.in)
			}
		})
	}
}

func TestGenerateSubscriptionToken_ShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		tok := GenerateSubscriptionToken()
		if _, err := ParseSubscriptionToken(tok); err != nil {
			t.Fatalf("generated token fails its own validation: %q %v", tok, err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token generated: %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestDeliveryStatus_Valid(t *testing.T) {
	for _, s := range []DeliveryStatus{DeliveryPending, DeliveryInFlight, DeliveryDelivered, DeliveryFailed} {
		if !s.Valid() {
			t.Fatalf("%q should be valid", s)
		}
	}
	for _, s := range []DeliveryStatus{"", "sent", "PENDING", "failed"} {
		if s.Valid() {
			t.Fatalf("%q should be invalid", s)
		}
	}
}

func TestTableNames(t *testing.T) {
	if (Subscriber{}).TableName() != "subscriptions" {
		t.Fatalf("Subscriber table name mismatch")
	}
	if (SubscriptionToken{}).TableName() != "subscription_tokens" {
		t.Fatalf("SubscriptionToken table name mismatch")
	}
	if (NewsletterIssue{}).TableName() != "newsletter_issues" {
		t.Fatalf("NewsletterIssue table name mismatch")
	}
	if (DeliveryTask{}).TableName() != "issue_delivery_queue" {
		t.Fatalf("DeliveryTask table name mismatch")
	}
	if (IdempotencyRecord{}).TableName() != "idempotency" {
		t.Fatalf("IdempotencyRecord table name mismatch")
	}
}
