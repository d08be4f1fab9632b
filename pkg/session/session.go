// Package session implements the session lifecycle: the states
// NEW/ACTIVE/IDLE/CLOSED, TTL and idle-timeout bookkeeping, and the
// per-session actor that owns exactly one turn-taking Engine and one
// conversation Machine while the session is open.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lokutor-ai/turntaker/pkg/conversation"
	"github.com/lokutor-ai/turntaker/pkg/transport"
	"github.com/lokutor-ai/turntaker/pkg/turntaking"
	"github.com/lokutor-ai/turntaker/pkg/types"
)

// LifecycleState is the session's coarse lifecycle, distinct from the
// conversation's dialogue state: this is a new, explicit type rather than
// a generalisation of the original single long-lived CLI session, which
// had no IDLE/CLOSED state of its own.
type LifecycleState string

const (
	New    LifecycleState = "NEW"
	Active LifecycleState = "ACTIVE"
	Idle   LifecycleState = "IDLE"
	Closed LifecycleState = "CLOSED"
)

// Session is the per-session actor: single logical thread of control over
// one Engine + one Machine.
type Session struct {
	ID string

	mu            sync.RWMutex
	lifecycle     LifecycleState
	createdAt     time.Time
	lastActivity  time.Time
	idleTimeout   time.Duration
	ttl           time.Duration

	Engine     *turntaking.Engine
	Conversation *conversation.Machine

	// lastUserAudio retains the most recently captured turn's raw PCM for
	// debugging/export, mirroring the original ExportLastUserAudio method.
	lastUserAudio []byte

	// emit delivers messages produced off the caller's goroutine: the
	// adapter round-trip a TURN_END triggers runs on its own goroutine so
	// HandleChunk/Tick never block draining new audio, and its eventual
	// result is pushed out through this callback instead of a return value.
	emit func([]transport.ServerMessage)
}

type Config struct {
	IdleTimeout        time.Duration
	MaxSessionDuration time.Duration
	TurnTaking         turntaking.Config
}

// New creates a session in NEW with a fresh uuid, per the session-management
// HTTP surface's POST /session/create contract.
func New(cfg Config, evaluator turntaking.Evaluator, stt types.STTProvider, llm types.LLMProvider, tts types.TTSProvider, voice types.Voice, lang types.Language, logger types.Logger, now time.Time) *Session {
	id := uuid.NewString()
	return &Session{
		ID:           id,
		lifecycle:    New,
		createdAt:    now,
		lastActivity: now,
		idleTimeout:  cfg.IdleTimeout,
		ttl:          cfg.MaxSessionDuration + 60*time.Second,
		Engine:       turntaking.New(cfg.TurnTaking, evaluator, now),
		Conversation: conversation.NewMachine(stt, llm, tts, voice, lang, logger),
	}
}

// SetEmit installs the callback used to deliver messages produced by an
// in-flight turn once its adapter calls complete. Safe to call with nil to
// detach (e.g. once the transport that was consuming them disconnects).
func (s *Session) SetEmit(fn func([]transport.ServerMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = fn
}

func (s *Session) emitAsync(msgs []transport.ServerMessage) {
	if len(msgs) == 0 {
		return
	}
	s.mu.RLock()
	fn := s.emit
	s.mu.RUnlock()
	if fn != nil {
		fn(msgs)
	}
}

func (s *Session) Lifecycle() LifecycleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
	if s.lifecycle == New || s.lifecycle == Idle {
		s.lifecycle = Active
	}
}

// CheckTimeouts applies the idle-timeout / TTL rules and returns the
// resulting lifecycle state.
func (s *Session) CheckTimeouts(now time.Time) LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle == Closed {
		return Closed
	}
	if now.Sub(s.createdAt) >= s.ttl {
		s.lifecycle = Closed
		return Closed
	}
	if s.lifecycle == Active && now.Sub(s.lastActivity) >= s.idleTimeout {
		s.lifecycle = Idle
	}
	return s.lifecycle
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycle = Closed
}

// Open synthesizes the greeting and moves the conversation machine through
// INIT -> GREETING -> LISTENING. It does not touch the Engine, which has been
// in IDLE, with its nudge timer running, since the session was created.
func (s *Session) Open(ctx context.Context, greetingText string) ([]byte, error) {
	audio, err := s.Conversation.Open(ctx, greetingText)
	if err != nil {
		return nil, err
	}
	s.Conversation.GreetingDispatched()
	return audio, nil
}

// HandleChunk runs one inbound audio chunk through the turn-taking engine
// and, for each TURN_END event, the conversation machine, translating
// engine/machine events into outbound transport messages.
func (s *Session) HandleChunk(ctx context.Context, now time.Time, chunk []byte) ([]transport.ServerMessage, error) {
	s.touch(now)
	events := s.Engine.OnChunk(now, chunk)
	return s.handleEvents(ctx, now, events)
}

// Tick drives the engine's timer-only transitions (nudge, candidate-end,
// continuation/comfort timeouts) from the service's periodic tick source.
// The resulting messages are delivered through the emit callback and also
// returned.
func (s *Session) Tick(ctx context.Context, now time.Time) ([]transport.ServerMessage, error) {
	events := s.Engine.OnTick(now)
	msgs, err := s.handleEvents(ctx, now, events)
	s.emitAsync(msgs)
	if s.CheckTimeouts(now) == Closed {
		s.Close()
	}
	return msgs, err
}

// handleEvents translates engine events into outbound messages. TURN_END is
// the one event whose handling calls out to the STT/LLM/TTS adapters; that
// work runs on its own goroutine so this call, and the chunk/tick loop
// driving it, never blocks waiting on a network round trip. now is the
// timestamp of the chunk or tick that produced these events, and is what
// seeds any engine state the turn's eventual outcome feeds back into
// (EnterWaitingIncomplete, ArmBotSpeaking) rather than wall-clock time.
func (s *Session) handleEvents(ctx context.Context, now time.Time, events []turntaking.Event) ([]transport.ServerMessage, error) {
	var out []transport.ServerMessage
	for _, ev := range events {
		switch ev.Type {
		case turntaking.BargeIn:
			out = append(out, transport.BargeIn())
		case turntaking.Nudge:
			out = append(out, transport.NudgePrompt(transport.NudgeText))
		case turntaking.ContinuationCue:
			out = append(out, transport.ContinuationCue(transport.ContinuationText))
		case turntaking.Comfort:
			out = append(out, transport.ComfortPrompt(transport.ComfortText))
		case turntaking.TurnEnd:
			s.lastUserAudio = ev.Buffer
			s.processTurnEnd(ctx, now, ev.Buffer)
		}
	}
	return out, nil
}

// processTurnEnd runs the conversation machine's adapter calls off the
// actor's critical section: new chunks keep arriving at the turn-taking
// engine (VAD classification, barge-in detection) while STT/LLM/TTS are in
// flight for the previous turn.
func (s *Session) processTurnEnd(ctx context.Context, now time.Time, buf []byte) {
	go func() {
		outcome, err := s.Conversation.HandleTurnEnd(ctx, now, buf)
		if err != nil {
			s.emitAsync([]transport.ServerMessage{s.Conversation.Fatal()})
			s.Close()
			return
		}
		if outcome.Incomplete {
			s.Engine.EnterWaitingIncomplete(now)
			return
		}
		if !outcome.BotSpeakingUntil.IsZero() {
			s.Engine.ArmBotSpeaking(outcome.BotSpeakingUntil)
		}
		s.emitAsync(outcome.Messages)
		if outcome.ShouldEndAfter {
			s.Close()
		}
	}()
}

// ExportLastUserAudio returns the raw PCM captured for the most recently
// completed turn, adapted from the original debugging export method.
func (s *Session) ExportLastUserAudio() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.lastUserAudio))
	copy(out, s.lastUserAudio)
	return out
}
