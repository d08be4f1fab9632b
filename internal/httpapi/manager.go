// Package httpapi exposes the session-management HTTP surface and the
// per-session voice WebSocket endpoint, wiring internal/store, pkg/session
// and the provider adapters into a single request-routed service.
package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/turntaker/internal/store"
	"github.com/lokutor-ai/turntaker/pkg/session"
	"github.com/lokutor-ai/turntaker/pkg/turntaking"
	"github.com/lokutor-ai/turntaker/pkg/types"
	"github.com/lokutor-ai/turntaker/pkg/vad"
)

// Manager owns every live session, backing it with a persisted record in
// store.Store so session state survives a process restart to the extent
// the store implementation allows.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	store store.Store

	cfg       session.Config
	evaluator turntaking.Evaluator

	newSTT func() types.STTProvider
	llm    types.LLMProvider
	tts    types.TTSProvider

	defaultVoice types.Voice
	defaultLang  types.Language

	logger types.Logger
}

// NewManager wires the session factory: a fresh STT instance per session
// (stateless per-call adapters are shared safely, but a dedicated closure
// keeps the door open for adapters that do hold per-session state, like
// StreamingSTTProvider) plus one shared LLM/TTS provider pair.
func NewManager(st store.Store, cfg session.Config, evaluator turntaking.Evaluator, newSTT func() types.STTProvider, llm types.LLMProvider, tts types.TTSProvider, voice types.Voice, lang types.Language, logger types.Logger) *Manager {
	if logger == nil {
		logger = &types.NoOpLogger{}
	}
	return &Manager{
		sessions:     make(map[string]*session.Session),
		store:        st,
		cfg:          cfg,
		evaluator:    evaluator,
		newSTT:       newSTT,
		llm:          llm,
		tts:          tts,
		defaultVoice: voice,
		defaultLang:  lang,
		logger:       logger,
	}
}

// Create starts a new session, persists its initial record and returns it.
func (m *Manager) Create(ctx context.Context, now time.Time) (*session.Session, error) {
	sess := session.New(m.cfg, m.evaluator, m.newSTT(), m.llm, m.tts, m.defaultVoice, m.defaultLang, m.logger, now)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	rec := store.SessionRecord{
		ID:           sess.ID,
		State:        string(sess.Lifecycle()),
		CreatedAt:    now,
		LastActivity: now,
	}
	ttl := m.cfg.MaxSessionDuration + 60*time.Second
	if err := m.store.SaveSession(ctx, rec, ttl); err != nil {
		return nil, fmt.Errorf("httpapi: persist new session: %w", err)
	}
	if err := m.store.AddActiveSession(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("httpapi: register active session: %w", err)
	}
	return sess, nil
}

// Get looks up a live in-memory session by id.
func (m *Manager) Get(id string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close closes a session, persists its CLOSED state and removes it from the
// active set. The persisted record is kept (not deleted) so a GET for this
// id still resolves until the record's TTL expires.
func (m *Manager) Close(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		sess.Close()
	}
	if err := m.persistClosed(ctx, id, now); err != nil {
		return err
	}
	if err := m.store.RemoveActiveSession(ctx, id); err != nil {
		return fmt.Errorf("httpapi: remove active session: %w", err)
	}
	return nil
}

// LoadPersisted fetches a session's record from the store, for callers that
// need to answer a lookup after the session has left the live set.
func (m *Manager) LoadPersisted(ctx context.Context, id string) (store.SessionRecord, bool, error) {
	return m.store.LoadSession(ctx, id)
}

// persistClosed rewrites the session's stored record with a CLOSED state,
// keeping the rest of the record (CreatedAt, UserID, ...) intact so the
// record remains a faithful snapshot of the session's last known shape.
func (m *Manager) persistClosed(ctx context.Context, id string, now time.Time) error {
	rec, ok, err := m.store.LoadSession(ctx, id)
	if err != nil {
		return fmt.Errorf("httpapi: load session before close: %w", err)
	}
	if !ok {
		rec = store.SessionRecord{ID: id, CreatedAt: now}
	}
	rec.State = string(session.Closed)
	rec.LastActivity = now
	ttl := m.cfg.MaxSessionDuration + 60*time.Second
	if err := m.store.SaveSession(ctx, rec, ttl); err != nil {
		return fmt.Errorf("httpapi: persist closed session: %w", err)
	}
	return nil
}

// SweepIdle ticks every live session's turn-taking engine (driving its
// NUDGE/CANDIDATE_END/CONTINUATION_CUE/COMFORT timers even when no new audio
// chunk arrives to do it), then evicts any session that reaches CLOSED,
// persisting its final state the same way an explicit Close does.
func (m *Manager) SweepIdle(ctx context.Context, now time.Time) {
	m.mu.RLock()
	live := make(map[string]*session.Session, len(m.sessions))
	for id, sess := range m.sessions {
		live[id] = sess
	}
	m.mu.RUnlock()

	var closed []string
	for id, sess := range live {
		if _, err := sess.Tick(ctx, now); err != nil {
			m.logger.Warn("httpapi: session tick failed", "id", id, "err", err)
		}
		if sess.Lifecycle() == session.Closed {
			closed = append(closed, id)
		}
	}
	if len(closed) == 0 {
		return
	}

	m.mu.Lock()
	for _, id := range closed {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, id := range closed {
		if err := m.persistClosed(ctx, id, now); err != nil {
			m.logger.Warn("httpapi: failed to persist swept session state", "id", id, "err", err)
		}
		if err := m.store.RemoveActiveSession(ctx, id); err != nil {
			m.logger.Warn("httpapi: failed to remove swept session from active set", "id", id, "err", err)
		}
	}
}

// NewEvaluator builds the default VAD evaluator shared by every session's
// turn-taking engine.
func NewEvaluator(logger types.Logger) *vad.Evaluator {
	return vad.New(vad.NewWebRTCFrameDetector(2), logger)
}
