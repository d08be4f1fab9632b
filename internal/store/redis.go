package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a Redis-backed key layout using
// github.com/redis/go-redis/v9 for the session/conversation hash+list
// store.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(host, port string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port),
		DB:   db,
	})
	return &RedisStore{client: client}
}

// NewRedisStoreWithClient wraps an already-configured client, letting tests
// point a RedisStore at an in-process miniredis instance.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

const activeSessionsKey = "sessions:active"

// HistoryRetention is a 24h retention period for conversation history.
// Nothing in this module applies it: closing a session does not touch the
// history key, which expires after the TTL last passed to AppendHistory.
const HistoryRetention = 24 * time.Hour

func sessionKey(id string) string      { return "session:" + id }
func conversationKey(id string) string { return "conversation:" + id }
func historyKey(id string) string      { return "conversation:" + id + ":history" }

func (r *RedisStore) SaveSession(ctx context.Context, rec SessionRecord, ttl time.Duration) error {
	key := sessionKey(rec.ID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"state":         rec.State,
		"created_at":    rec.CreatedAt.Format(time.RFC3339),
		"last_activity": rec.LastActivity.Format(time.RFC3339),
		"user_id":       rec.UserID,
		"metadata":      rec.Metadata,
	})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) LoadSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	res, err := r.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return SessionRecord{}, false, err
	}
	if len(res) == 0 {
		return SessionRecord{}, false, nil
	}
	created, _ := time.Parse(time.RFC3339, res["created_at"])
	lastActivity, _ := time.Parse(time.RFC3339, res["last_activity"])
	return SessionRecord{
		ID:           id,
		State:        res["state"],
		CreatedAt:    created,
		LastActivity: lastActivity,
		UserID:       res["user_id"],
		Metadata:     res["metadata"],
	}, true, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, activeSessionsKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) AddActiveSession(ctx context.Context, id string) error {
	return r.client.SAdd(ctx, activeSessionsKey, id).Err()
}

func (r *RedisStore) RemoveActiveSession(ctx context.Context, id string) error {
	return r.client.SRem(ctx, activeSessionsKey, id).Err()
}

func (r *RedisStore) ActiveSessions(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, activeSessionsKey).Result()
}

func (r *RedisStore) SaveConversation(ctx context.Context, id string, rec ConversationRecord, ttl time.Duration) error {
	key := conversationKey(id)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"state":               rec.State,
		"turn_count":          rec.TurnCount,
		"clarification_count": rec.ClarificationCount,
		"silence_prompts":     rec.SilencePrompts,
	})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) LoadConversation(ctx context.Context, id string) (ConversationRecord, bool, error) {
	res, err := r.client.HGetAll(ctx, conversationKey(id)).Result()
	if err != nil {
		return ConversationRecord{}, false, err
	}
	if len(res) == 0 {
		return ConversationRecord{}, false, nil
	}
	var rec ConversationRecord
	rec.State = res["state"]
	fmt.Sscanf(res["turn_count"], "%d", &rec.TurnCount)
	fmt.Sscanf(res["clarification_count"], "%d", &rec.ClarificationCount)
	fmt.Sscanf(res["silence_prompts"], "%d", &rec.SilencePrompts)
	return rec, true, nil
}

func (r *RedisStore) AppendHistory(ctx context.Context, id string, entry HistoryEntry, historyTTL time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := historyKey(id)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, historyTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) LoadHistory(ctx context.Context, id string) ([]HistoryEntry, error) {
	raw, err := r.client.LRange(ctx, historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
