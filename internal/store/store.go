// Package store implements the persisted session/conversation state: per-
// session and per-conversation hashes, an active-session set, and a
// conversation history list. The history list grows by append with no cap;
// each write takes its TTL from the caller.
package store

import (
	"context"
	"time"
)

// SessionRecord mirrors the session:{id} hash fields.
type SessionRecord struct {
	ID           string
	State        string
	CreatedAt    time.Time
	LastActivity time.Time
	UserID       string
	Metadata     string
}

// ConversationRecord mirrors the conversation:{id} hash fields.
type ConversationRecord struct {
	State              string
	TurnCount          int
	ClarificationCount int
	SilencePrompts     int
}

// HistoryEntry is one record in conversation:{id}:history.
type HistoryEntry struct {
	Role    string
	Content string
}

// Store is the session/conversation key-value store contract. Implementations
// are RedisStore (primary) and MemoryStore (test/no-redis fallback).
type Store interface {
	SaveSession(ctx context.Context, rec SessionRecord, ttl time.Duration) error
	LoadSession(ctx context.Context, id string) (SessionRecord, bool, error)
	DeleteSession(ctx context.Context, id string) error

	AddActiveSession(ctx context.Context, id string) error
	RemoveActiveSession(ctx context.Context, id string) error
	ActiveSessions(ctx context.Context) ([]string, error)

	SaveConversation(ctx context.Context, id string, rec ConversationRecord, ttl time.Duration) error
	LoadConversation(ctx context.Context, id string) (ConversationRecord, bool, error)

	AppendHistory(ctx context.Context, id string, entry HistoryEntry, historyTTL time.Duration) error
	LoadHistory(ctx context.Context, id string) ([]HistoryEntry, error)
}
