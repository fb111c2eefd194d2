package patient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewRedisStoreDefaults(t *testing.T) {
	s := NewRedisStore(nil, RedisOptions{})
	if s.key("abc") != "medtriage:session:abc" {
		t.Fatalf("expected default prefix, got %q", s.key("abc"))
	}
	if s.ttl != 24*time.Hour || s.maxRetries != 5 || s.now == nil {
		t.Fatalf("expected defaults, got ttl=%v retries=%d", s.ttl, s.maxRetries)
	}
}

func TestRedisStoreRejectsEmptyIDBeforeNetwork(t *testing.T) {
	s := NewRedisStore(nil, RedisOptions{})
	ctx := context.Background()
	if _, err := s.GetOrCreate(ctx, ""); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("expected ErrSessionIDRequired from GetOrCreate, got %v", err)
	}
	if _, err := s.Merge(ctx, " ", FactDelta{Confirmed: []string{"fever"}}); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("expected ErrSessionIDRequired from Merge, got %v", err)
	}
	if _, err := s.Snapshot(ctx, ""); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("expected ErrSessionIDRequired from Snapshot, got %v", err)
	}
	if err := s.Delete(ctx, ""); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("expected ErrSessionIDRequired from Delete, got %v", err)
	}
}

func TestDecodeSessionDeduplicates(t *testing.T) {
	raw := []byte(`{"session_id":"s-1","confirmed_symptoms":["fever","fever","rash"],"denied_symptoms":["cough"],"duration":"2 days","created_at":"2026-01-02T03:04:05Z","last_updated":"2026-01-02T04:04:05Z"}`)
	sess, err := decodeSession(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	snap := sess.Snapshot()
	if strings.Join(snap.Confirmed, ",") != "fever,rash" {
		t.Fatalf("expected deduplicated confirmed list, got %v", snap.Confirmed)
	}
	if snap.SessionID != "s-1" || snap.Duration != "2 days" || len(snap.Denied) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.LastUpdated.After(snap.CreatedAt) {
		t.Fatalf("expected last_updated preserved, got %v", snap.LastUpdated)
	}
}

func TestDecodeSessionRejectsGarbage(t *testing.T) {
	if _, err := decodeSession([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestPseudonymIsStable(t *testing.T) {
	a := Pseudonym("session-1")
	if a != Pseudonym("  session-1 ") {
		t.Fatalf("expected trimmed ids to share a pseudonym")
	}
	if len(a) != 64 || a == Pseudonym("session-2") || strings.Contains(a, "session") {
		t.Fatalf("unexpected pseudonym %q", a)
	}
}
