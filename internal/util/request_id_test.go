package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveRequestID(t *testing.T, incoming string) (ctxID, headerID string) {
	t.Helper()
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromRequest(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if incoming != "" {
		req.Header.Set("X-Request-Id", incoming)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get("X-Request-Id")
}

func TestWithRequestIDKeepsIncoming(t *testing.T) {
	ctxID, headerID := serveRequestID(t, "req-incoming-123")
	if ctxID != "req-incoming-123" || headerID != "req-incoming-123" {
		t.Fatalf("incoming id not propagated: ctx=%q header=%q", ctxID, headerID)
	}
}

func TestWithRequestIDReplacesMissingOrMalformed(t *testing.T) {
	for _, incoming := range []string{"", "has space", strings.Repeat("a", maxRequestIDLen+1), "café"} {
		ctxID, headerID := serveRequestID(t, incoming)
		if ctxID == "" || ctxID == incoming || ctxID != headerID {
			t.Fatalf("incoming %q: expected fresh id, got ctx=%q header=%q", incoming, ctxID, headerID)
		}
	}
}
