// Subscription HTTP handlers.
//
// This file exposes the public sign-up endpoints:
//   - POST /subscriptions                 (subscribe with email + name)
//   - GET  /subscriptions/confirm         (confirm via emailed token)
//
// Handlers are transport-thin:
//   - bind & normalize form/query input
//   - delegate to the application service (SubscriptionService)
//   - map service errors onto the standard error envelope
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/services"
)

//
// DTOs
//

// SubscribeRequest is the form payload for signing up.
type SubscribeRequest struct {
	// Email is the address the confirmation link is sent to.
	Email string `form:"email" json:"email" binding:"required" example:"ursula@example.com"`
	// Name is the subscriber's display name.
	Name string `form:"name" json:"name" binding:"required" example:"Ursula Le Guin"`
}

// SubscribeResponse acknowledges a stored (but not yet confirmed) subscription.
type SubscribeResponse struct {
	Status string `json:"status" example:"pending_confirmation"`
}

// Subscribe handles POST /subscriptions.
//
// It accepts form-encoded or JSON bodies, stores the subscriber in
// pending_confirmation status, and triggers the confirmation email. Repeating
// the request for the same address re-sends the same confirmation link.
func (h *Handlers) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and name are required")
		return
	}

	sub, err := h.Subscriptions.Subscribe(c.Request.Context(), req.Email, req.Name)
	switch {
	case errors.Is(err, services.ErrInvalidEmail):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid email address")
		return
	case errors.Is(err, services.ErrInvalidName):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid name")
		return
	case errors.Is(err, services.ErrConfirmationEmail):
		// The subscription is stored; the handshake email failed.
		fail(c, http.StatusInternalServerError, ErrCodeSubscribeFailed, "could not send confirmation email")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeSubscribeFailed, "could not create subscription")
		return
	}

	ok(c, http.StatusOK, SubscribeResponse{Status: sub.Status})
}

// Confirm handles GET /subscriptions/confirm?subscription_token=...
//
// A valid token promotes its subscriber to confirmed status. Confirming
// twice is harmless.
func (h *Handlers) Confirm(c *gin.Context) {
	token := c.Query("subscription_token")

	err := h.Subscriptions.Confirm(c.Request.Context(), token)
	switch {
	case errors.Is(err, services.ErrInvalidToken):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid subscription token")
		return
	case errors.Is(err, services.ErrTokenNotFound):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown subscription token")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not confirm subscription")
		return
	}

	ok(c, http.StatusOK, gin.H{"status": "confirmed"})
}
