// Package domain defines the core persistence models for the application.
// This file holds the idempotency record used to make the newsletter publish
// endpoint safe to retry: the first successful response is persisted and
// replayed verbatim for every later request carrying the same key.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxIdempotencyKeyLen bounds stored key length and guards against abuse.
const MaxIdempotencyKeyLen = 50

// ParseIdempotencyKey validates a raw Idempotency-Key value: non-empty and at
// most MaxIdempotencyKeyLen characters. Validation happens at the boundary,
// before any transaction is opened.
func ParseIdempotencyKey(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("idempotency key cannot be empty")
	}
	if len(s) > MaxIdempotencyKeyLen {
		return "", fmt.Errorf("idempotency key exceeds %d characters", MaxIdempotencyKeyLen)
	}
	return s, nil
}

// HeaderPair is one response header as originally written. Order is preserved
// and duplicate names are allowed, so a replayed response is byte-identical
// to the first one.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// IdempotencyRecord is the saved outcome of a previously processed request,
// keyed by (user_id, key). The row is inserted in a "started" state at the
// very beginning of handling — the unique index makes that insert the
// single-winner gate for racing requests — and completed in the same
// transaction that performs the side effects.
//
// A record with ResponseStatus == 0 is a reservation in progress; once the
// response columns are populated the record is immutable.
type IdempotencyRecord struct {
	ID              string     `gorm:"type:char(36);primaryKey"`
	UserID          string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_idempotency_user_key,priority:1"`
	Key             string     `gorm:"type:varchar(50);not null;uniqueIndex:ux_idempotency_user_key,priority:2"`
	ResponseStatus  int        `gorm:"not null;default:0"`
	ResponseHeaders []byte     `gorm:"type:blob"`
	ResponseBody    []byte     `gorm:"type:blob"`
	CreatedAt       time.Time  `gorm:"not null"`
	CompletedAt     *time.Time ``
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency" }

// Completed reports whether the record holds a saved response (as opposed to
// a reservation still being processed by its winner).
func (r *IdempotencyRecord) Completed() bool { return r.ResponseStatus != 0 }

// StoredResponse is the deserialized form of a completed record: the exact
// status, ordered headers, and body produced by the first execution.
type StoredResponse struct {
	Status  int
	Headers []HeaderPair
	Body    []byte
}

// Response decodes the record's saved response. Calling it on an incomplete
// record is a programming error and returns an error.
func (r *IdempotencyRecord) Response() (*StoredResponse, error) {
	if !r.Completed() {
		return nil, fmt.Errorf("idempotency record %q has no saved response", r.Key)
	}
	var headers []HeaderPair
	if len(r.ResponseHeaders) > 0 {
		if err := json.Unmarshal(r.ResponseHeaders, &headers); err != nil {
			return nil, fmt.Errorf("decode saved response headers: %w", err)
		}
	}
	return &StoredResponse{
		Status:  r.ResponseStatus,
		Headers: headers,
		Body:    r.ResponseBody,
	}, nil
}

// EncodeHeaders serializes an ordered header list for storage.
func EncodeHeaders(headers []HeaderPair) ([]byte, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	return json.Marshal(headers)
}
