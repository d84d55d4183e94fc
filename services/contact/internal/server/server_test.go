package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"leadmachine/internal/ratelimit"
	"leadmachine/pkg/store"
	"leadmachine/services/contact/internal/app"
)

type staticGenerator struct{ text string }

func (g staticGenerator) GenerateText(context.Context, string, string) (string, error) {
	return g.text, nil
}

func newContactServer(t *testing.T, limiter ratelimit.Limiter) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	a, err := app.New(app.Config{Store: mem, Generator: staticGenerator{text: "Thanks Dana, we will follow up on pricing."}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{App: a, Limiter: limiter})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, mem
}

const validBody = `{"name":"Dana","email":"dana@example.com","subject":"Pricing","message":"Annual plans?"}`

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url+"/api/contact", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestContactSuccess(t *testing.T) {
	srv, mem := newContactServer(t, nil)
	resp, data := post(t, srv.URL, validBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != true || body["ai_response"] != "Thanks Dana, we will follow up on pricing." {
		t.Fatalf("unexpected body: %s", data)
	}
	if len(mem.ContactMessages()) != 1 {
		t.Fatalf("message not saved")
	}
}

func TestContactMissingFields(t *testing.T) {
	srv, mem := newContactServer(t, nil)
	resp, data := post(t, srv.URL, `{"name":"Dana","email":"dana@example.com","subject":"Pricing"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	if body["error"] != "All fields are required" {
		t.Fatalf("unexpected body: %s", data)
	}
	if resp, _ := post(t, srv.URL, `not json`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.StatusCode)
	}
	if len(mem.ContactMessages()) != 0 {
		t.Fatalf("invalid submissions must not be saved")
	}
}

func TestContactRateLimitPerIP(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "test:contact", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	srv, _ := newContactServer(t, limiter)
	if resp, _ := post(t, srv.URL, validBody); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", resp.StatusCode)
	}
	resp, _ := post(t, srv.URL, validBody)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("second request expected 429 with Retry-After, got %d", resp.StatusCode)
	}
}

func TestContactPreflight(t *testing.T) {
	srv, _ := newContactServer(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/contact", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "x-client-info") {
		t.Fatalf("missing BaaS client headers: %q", resp.Header.Get("Access-Control-Allow-Headers"))
	}
}
