// Newsletter HTTP handlers.
//
// This file exposes the admin publishing endpoints:
//   - POST /admin/newsletters            (publish an issue; idempotent)
//   - GET  /admin/newsletters            (paginated issue list)
//   - GET  /admin/newsletters/:id/stats  (delivery status breakdown)
//
// Idempotency:
// Publishing requires an Idempotency-Key header. The first request with a
// given (user, key) performs the work; every later request with the same pair
// receives exactly the stored response — same status, same headers in the
// same order, same body bytes. The handler writes whatever StoredResponse
// the service hands back, so the fresh and replayed paths share one code path
// and cannot drift apart.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
	"github.com/tbourn/go-newsletter-backend/internal/utils"
)

//
// DTOs
//

// PublishNewsletterRequest is the payload for publishing an issue.
type PublishNewsletterRequest struct {
	// Title becomes the subject line of the outgoing emails.
	Title string `form:"title" json:"title" binding:"required" example:"Issue #42"`
	// HTML is the rich body sent to subscribers.
	HTML string `form:"html" json:"html" binding:"required" example:"<p>Hello!</p>"`
	// Text is the plain-text body sent to subscribers.
	Text string `form:"text" json:"text" binding:"required" example:"Hello!"`
}

// ListNewslettersResponse contains a page of issues and pagination metadata.
type ListNewslettersResponse struct {
	Issues     []domain.NewsletterIssue `json:"issues"`
	Pagination Pagination               `json:"pagination"`
}

// NewsletterStatsResponse reports delivery progress for one issue.
type NewsletterStatsResponse struct {
	Issue *domain.NewsletterIssue `json:"issue"`
	Stats map[string]int64        `json:"stats"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// PublishNewsletter handles POST /admin/newsletters.
//
// The authenticated user id comes from upstream auth middleware; the
// Idempotency-Key header is mandatory and capped at 50 characters. On
// success (first execution or replay) the stored response is written
// verbatim: 303 with a Location header pointing at the issue list.
func (h *Handlers) PublishNewsletter(c *gin.Context) {
	var req PublishNewsletterRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title, html and text are required")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	if key == "" {
		// Not stashed by the validator (absent header); read it raw so the
		// service can reject it with a precise error.
		key = c.GetHeader(middleware.HeaderIdempotencyKey)
	}
	userID := userIDFromCtx(c)

	result, err := h.Newsletters.Publish(c.Request.Context(), userID, key, req.Title, req.HTML, req.Text)
	switch {
	case errors.Is(err, services.ErrInvalidIdempotencyKey):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing or invalid Idempotency-Key header")
		return
	case errors.Is(err, services.ErrEmptyTitle), errors.Is(err, services.ErrEmptyContent):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title, html and text are required")
		return
	case errors.Is(err, repo.ErrProcessing):
		fail(c, http.StatusConflict, ErrCodeProcessing, "request is already being processed; retry later")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodePublishFailed, "could not publish newsletter issue")
		return
	}

	writeStoredResponse(c, result.Response)
}

// ListNewsletters handles GET /admin/newsletters with page/page_size query
// parameters.
func (h *Handlers) ListNewsletters(c *gin.Context) {
	page, pageSize := clampPagination(c)

	issues, total, err := h.Newsletters.ListIssuesPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list newsletter issues")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListNewslettersResponse{
		Issues: issues,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// NewsletterStats handles GET /admin/newsletters/:id/stats.
func (h *Handlers) NewsletterStats(c *gin.Context) {
	issue, stats, err := h.Newsletters.Stats(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrIssueNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "newsletter issue not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load delivery stats")
		return
	}

	ok(c, http.StatusOK, NewsletterStatsResponse{Issue: issue, Stats: stats})
}

// writeStoredResponse writes a saved response exactly as first produced:
// status, headers in original order (duplicates preserved), raw body bytes.
func writeStoredResponse(c *gin.Context, resp *domain.StoredResponse) {
	header := c.Writer.Header()
	for _, hp := range resp.Headers {
		header.Add(hp.Name, hp.Value)
	}
	c.Status(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = c.Writer.Write(resp.Body)
	}
}

// userIDFromCtx extracts the authenticated user identifier set by upstream
// auth middleware. A development-friendly "admin" fallback is returned when
// no identity is available.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "admin"
}
