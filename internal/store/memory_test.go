package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	rec := SessionRecord{ID: "abc", State: "NEW", CreatedAt: time.Now(), UserID: "u1"}
	if err := m.SaveSession(ctx, rec, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok, err := m.LoadSession(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("expected to load session, ok=%v err=%v", ok, err)
	}
	if got.UserID != "u1" {
		t.Fatalf("expected user_id u1, got %q", got.UserID)
	}

	if err := m.DeleteSession(ctx, "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := m.LoadSession(ctx, "abc"); ok {
		t.Fatal("expected session to be gone after delete")
	}
}

func TestMemoryStoreActiveSessionSet(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.AddActiveSession(ctx, "s1")
	m.AddActiveSession(ctx, "s2")
	ids, _ := m.ActiveSessions(ctx)
	if len(ids) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(ids))
	}

	m.RemoveActiveSession(ctx, "s1")
	ids, _ = m.ActiveSessions(ctx)
	if len(ids) != 1 {
		t.Fatalf("expected 1 active session after removal, got %d", len(ids))
	}
}

func TestMemoryStoreHistoryAppendsInOrder(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.AppendHistory(ctx, "c1", HistoryEntry{Role: "user", Content: "hi"}, time.Hour)
	m.AppendHistory(ctx, "c1", HistoryEntry{Role: "assistant", Content: "hello"}, time.Hour)

	history, err := m.LoadHistory(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("unexpected history order: %+v", history)
	}
}
