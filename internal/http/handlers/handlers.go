// Package handlers provides HTTP handler implementations for the public API.
// This file defines the Handlers aggregate that carries the application
// services used by the endpoint methods.
package handlers

import "github.com/tbourn/go-newsletter-backend/internal/services"

// Handlers bundles the application services behind the HTTP endpoints.
type Handlers struct {
	Subscriptions *services.SubscriptionService
	Newsletters   *services.NewsletterService
}

// New constructs the handler set used by the router.
func New(subs *services.SubscriptionService, news *services.NewsletterService) *Handlers {
	return &Handlers{Subscriptions: subs, Newsletters: news}
}
