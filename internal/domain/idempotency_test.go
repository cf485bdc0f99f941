package domain

import (
	"net/http"
	"strings"
	"testing"
)

func TestParseIdempotencyKey(t *testing.T) {
	if _, err := ParseIdempotencyKey(""); err == nil {
		t.Fatalf("empty key must be rejected")
	}
	if _, err := ParseIdempotencyKey(strings.Repeat("k", MaxIdempotencyKeyLen+1)); err == nil {
		t.Fatalf("over-long key must be rejected")
	}

	max := strings.Repeat("k", MaxIdempotencyKeyLen)
	got, err := ParseIdempotencyKey(max)
	if err != nil {
		t.Fatalf("key at exactly the limit must pass: %v", err)
	}
	if got != max {
		t.Fatalf("key changed by parsing")
	}
}

func TestIdempotencyRecord_Completed(t *testing.T) {
	rec := IdempotencyRecord{}
	if rec.Completed() {
		t.Fatalf("reservation without response must not be completed")
	}
	rec.ResponseStatus = http.StatusSeeOther
	if !rec.Completed() {
		t.Fatalf("record with status must be completed")
	}
}

func TestIdempotencyRecord_Response_RoundTrip(t *testing.T) {
	headers := []HeaderPair{
		{Name: "Location", Value: "/admin/newsletters"},
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "Set-Cookie", Value: "b=2"}, // duplicates preserved in order
	}
	raw, err := EncodeHeaders(headers)
	if err != nil {
		t.Fatalf("EncodeHeaders: %v", err)
	}

	rec := IdempotencyRecord{
		ResponseStatus:  http.StatusSeeOther,
		ResponseHeaders: raw,
		ResponseBody:    []byte(`{"status":"accepted"}`),
	}
	resp, err := rec.Response()
	if err != nil {
		t.Fatalf("Response: %v", err)
	}
	if resp.Status != http.StatusSeeOther {
		t.Fatalf("status mismatch: %d", resp.Status)
	}
	if len(resp.Headers) != 3 {
		t.Fatalf("headers lost: %+v", resp.Headers)
	}
	for i := range headers {
		if resp.Headers[i] != headers[i] {
			t.Fatalf("header %d out of order: got %+v want %+v", i, resp.Headers[i], headers[i])
		}
	}
	if string(resp.Body) != `{"status":"accepted"}` {
		t.Fatalf("body mismatch: %s", resp.Body)
	}
}

func TestIdempotencyRecord_Response_Errors(t *testing.T) {
	// Incomplete record.
	rec := IdempotencyRecord{Key: "k1"}
	if _, err := rec.Response(); err == nil {
		t.Fatalf("expected error for incomplete record")
	}

	// Corrupt header payload.
	rec = IdempotencyRecord{ResponseStatus: 200, ResponseHeaders: []byte("{not json")}
	if _, err := rec.Response(); err == nil {
		t.Fatalf("expected error for corrupt headers")
	}
}

func TestEncodeHeaders_EmptyIsNil(t *testing.T) {
	raw, err := EncodeHeaders(nil)
	if err != nil || raw != nil {
		t.Fatalf("expected nil encoding for no headers, got %v %v", raw, err)
	}

	// A record with no stored headers decodes to an empty list.
	rec := IdempotencyRecord{ResponseStatus: 204}
	resp, err := rec.Response()
	if err != nil {
		t.Fatalf("Response: %v", err)
	}
	if len(resp.Headers) != 0 {
		t.Fatalf("expected no headers, got %+v", resp.Headers)
	}
}
