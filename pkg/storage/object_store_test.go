package storage

import (
	"context"
	"strings"
	"testing"
)

func TestRawOutputKey(t *testing.T) {
	if got := RawOutputKey(" u1 ", "e1"); got != "raw/u1/e1.txt" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestMemoryStorePutDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Put(ctx, "raw/u1/b.txt", strings.NewReader("second"), 6, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "raw/u1/a.txt", strings.NewReader("first"), 5, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if keys := s.Keys(); len(keys) != 2 || keys[0] != "raw/u1/a.txt" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if body, ok := s.Get("raw/u1/b.txt"); !ok || string(body) != "second" {
		t.Fatalf("unexpected body %q %v", body, ok)
	}
	if err := s.Delete(ctx, "raw/u1/b.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "raw/u1/missing.txt"); err != nil {
		t.Fatalf("deleting a missing key should be a no-op: %v", err)
	}
	if _, ok := s.Get("raw/u1/b.txt"); ok {
		t.Fatalf("object still present after delete")
	}
}
