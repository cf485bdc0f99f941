package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

type stubTransport struct {
	sent int
	err  error
}

func (s *stubTransport) Send(context.Context, string, string, string, string) error {
	if s.err != nil {
		return s.err
	}
	s.sent++
	return nil
}

// newHandlerApp wires the handler set over a throwaway SQLite DB plus a stub
// email transport, with the routes the production router registers.
func newHandlerApp(t *testing.T) (*gin.Engine, *gorm.DB, *stubTransport) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "handlers.db")
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

	tr := &stubTransport{}
	h := New(
		&services.SubscriptionService{DB: db, Transport: tr, BaseURL: "https://news.example.com"},
		&services.NewsletterService{DB: db, Wait: repo.WaitOptions{
			WaitMax:   200 * time.Millisecond,
			PollEvery: 20 * time.Millisecond,
		}},
	)

	r := gin.New()
	r.POST("/subscriptions", h.Subscribe)
	r.GET("/subscriptions/confirm", h.Confirm)
	r.POST("/admin/newsletters", h.PublishNewsletter)
	r.GET("/admin/newsletters", h.ListNewsletters)
	r.GET("/admin/newsletters/:id/stats", h.NewsletterStats)
	return r, db, tr
}

func postForm(r *gin.Engine, target string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestSubscribe_OK(t *testing.T) {
	r, db, tr := newHandlerApp(t)

	w := postForm(r, "/subscriptions", url.Values{
		"email": {"ursula@example.com"},
		"name":  {"Ursula Le Guin"},
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp SubscribeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != domain.SubscriberStatusPending {
		t.Fatalf("status = %q, want pending_confirmation", resp.Status)
	}
	if tr.sent != 1 {
		t.Fatalf("confirmation emails sent = %d, want 1", tr.sent)
	}
	if _, err := repo.GetSubscriberByEmail(context.Background(), db, "ursula@example.com"); err != nil {
		t.Fatalf("subscriber not stored: %v", err)
	}
}

func TestSubscribe_BindingAndValidationErrors(t *testing.T) {
	r, _, _ := newHandlerApp(t)

	cases := []struct {
		name string
		form url.Values
	}{
		{"missing fields", url.Values{}},
		{"missing name", url.Values{"email": {"a@example.com"}}},
		{"bad email", url.Values{"email": {"not-an-email"}, "name": {"A"}}},
		{"bad name", url.Values{"email": {"a@example.com"}, "name": {"<script>"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postForm(r, "/subscriptions", tc.form, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if resp := decodeError(t, w); resp.Code != ErrCodeBadRequest {
				t.Fatalf("code = %q, want %q", resp.Code, ErrCodeBadRequest)
			}
		})
	}
}

func TestSubscribe_EmailFailureReturns500(t *testing.T) {
	r, db, tr := newHandlerApp(t)
	tr.err = context.DeadlineExceeded

	w := postForm(r, "/subscriptions", url.Values{
		"email": {"ursula@example.com"},
		"name":  {"Ursula"},
	}, nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeSubscribeFailed {
		t.Fatalf("code = %q, want %q", resp.Code, ErrCodeSubscribeFailed)
	}
	// The subscription itself survived the email failure.
	if _, err := repo.GetSubscriberByEmail(context.Background(), db, "ursula@example.com"); err != nil {
		t.Fatalf("subscriber not stored: %v", err)
	}
}

func TestConfirm_HappyPath(t *testing.T) {
	r, db, _ := newHandlerApp(t)

	w := postForm(r, "/subscriptions", url.Values{
		"email": {"ursula@example.com"}, "name": {"Ursula"},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("subscribe failed: %d", w.Code)
	}
	sub, err := repo.GetSubscriberByEmail(context.Background(), db, "ursula@example.com")
	if err != nil {
		t.Fatalf("load subscriber: %v", err)
	}
	token, err := repo.GetTokenForSubscriber(context.Background(), db, sub.ID)
	if err != nil {
		t.Fatalf("load token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?subscription_token="+token, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, body %s", rec.Code, rec.Body.String())
	}
	stored, _ := repo.GetSubscriberByEmail(context.Background(), db, "ursula@example.com")
	if stored.Status != domain.SubscriberStatusConfirmed {
		t.Fatalf("subscriber status = %q, want confirmed", stored.Status)
	}
}

func TestConfirm_TokenErrors(t *testing.T) {
	r, _, _ := newHandlerApp(t)

	// Malformed token: 400.
	req := httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?subscription_token=nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed token status = %d, want 400", rec.Code)
	}

	// Well-formed but unknown token: 401.
	unknown := domain.GenerateSubscriptionToken()
	req = httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?subscription_token="+unknown, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token status = %d, want 401", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != ErrCodeUnauthorized {
		t.Fatalf("code = %q, want %q", resp.Code, ErrCodeUnauthorized)
	}
}
