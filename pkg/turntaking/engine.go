// Package turntaking implements the turn-taking state machine and the
// barge-in detector. Both share one Engine per session because they
// share the same per-chunk VAD verdicts and the same turn buffer.
package turntaking

import (
	"bytes"
	"sync"
	"time"

	"github.com/lokutor-ai/turntaker/pkg/vad"
)

// State is the engine state owned jointly by the turn-taking machine and
// the barge-in detector.
type State string

const (
	Idle               State = "IDLE"
	Listening          State = "LISTENING"
	CandidateEnd       State = "CANDIDATE_END"
	WaitingIncomplete  State = "WAITING_INCOMPLETE"
)

// EventType enumerates what OnChunk/OnTick may emit.
type EventType string

const (
	TurnEnd         EventType = "TURN_END"
	ContinuationCue EventType = "CONTINUATION_CUE"
	Nudge           EventType = "NUDGE"
	Comfort         EventType = "COMFORT"
	BargeIn         EventType = "BARGE_IN"
)

// Event is one emission from the engine. Only TurnEnd carries audio.
type Event struct {
	Type      EventType
	Buffer    []byte
	Timestamp time.Time
}

// Config holds the turn-taking timing constants, overridable per session.
type Config struct {
	CandidateEndMs   int
	FinalEndMs       int
	MinSpeechMs      int
	NudgeMs          int
	IncompleteWaitMs int
	ComfortWaitMs    int
	MaxNudges        int
}

// DefaultConfig returns the constants named in the component design.
func DefaultConfig() Config {
	return Config{
		CandidateEndMs:   1000,
		FinalEndMs:       400,
		MinSpeechMs:      300,
		NudgeMs:          1500,
		IncompleteWaitMs: 300,
		ComfortWaitMs:    1500,
		MaxNudges:        3,
	}
}

// Evaluator is the subset of vad.Evaluator the engine needs; small so tests
// can supply a stub without constructing a real VAD pipeline.
type Evaluator interface {
	Evaluate(chunk []byte) (vad.Verdict, float64)
	FrameProbabilities(chunk []byte) []float64
}

// frameProbThreshold is the per-frame VAD probability the barge-in detector
// treats as "voiced".
const frameProbThreshold = 0.6

// bargeInFrameThreshold is the number of consecutive voiced frames that
// raises a pre-emption signal: 2 frames, ≈40ms at 20ms/frame.
const bargeInFrameThreshold = 2

// Engine is the per-session turn-taking actor. All exported methods are
// safe for concurrent use, though a session in practice drives it from a
// single actor goroutine.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	vad Evaluator

	state State

	listeningStartedAt  time.Time
	silenceStartedAt    time.Time
	incompleteStartedAt time.Time
	idleEnteredAt       time.Time

	speechAccumulatedMs int
	buffer              bytes.Buffer

	botSpeaking                      bool
	botSpeakingUntil                 time.Time
	consecutiveSpeechFramesDuringBot int

	nudgeCount        int
	continuationCount int
	comfortCount      int

	cuedThisWait    bool
	comfortedThisWait bool
}

// New constructs an Engine in IDLE, starting its nudge timer now.
func New(cfg Config, evaluator Evaluator, now time.Time) *Engine {
	return &Engine{
		cfg:           cfg,
		vad:           evaluator,
		state:         Idle,
		idleEnteredAt: now,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// BotSpeaking reports whether the barge-in detector is currently primed.
func (e *Engine) BotSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.botSpeaking
}

// ArmBotSpeaking is called by the conversation machine when it hands a TTS artifact to the
// transport, starting the barge-in window for the given playback deadline.
func (e *Engine) ArmBotSpeaking(until time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.botSpeaking = true
	e.botSpeakingUntil = until
	e.consecutiveSpeechFramesDuringBot = 0
}

// Interrupt clears bot-speaking state externally (e.g. deadline elapsed, or
// an out-of-band interruption request), clearing the barge-in counter.
func (e *Engine) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearBotSpeaking()
}

func (e *Engine) clearBotSpeaking() {
	e.botSpeaking = false
	e.botSpeakingUntil = time.Time{}
	e.consecutiveSpeechFramesDuringBot = 0
}

// EnterWaitingIncomplete is the conversation machine's hook after a
// linguistic-incomplete verdict. The PCM buffer starts fresh for the
// continuation; the conversation machine is responsible for
// concatenating the prefix transcript with the continuation's transcript
// (the buffer itself is not re-transcribed, per the prescribed resolution
// to the buffer-retention question: concatenate text, not PCM).
func (e *Engine) EnterWaitingIncomplete(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = WaitingIncomplete
	e.buffer.Reset()
	e.speechAccumulatedMs = 0
	e.incompleteStartedAt = now
	e.silenceStartedAt = time.Time{}
	e.listeningStartedAt = time.Time{}
	e.cuedThisWait = false
	e.comfortedThisWait = false
}

// OnTick evaluates timer-only transitions (no new audio). Per the tie-break
// rule, OnChunk always runs this before processing the chunk that arrived.
func (e *Engine) OnTick(now time.Time) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluateTimers(now)
}

// OnChunk feeds one arrived audio chunk through the barge-in detector (if
// the bot is speaking) and then the turn-taking transition table.
func (e *Engine) OnChunk(now time.Time, chunk []byte) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []Event
	events = append(events, e.evaluateTimers(now)...)

	if e.botSpeaking {
		if ev, pre := e.evaluateBargeIn(now, chunk); pre {
			events = append(events, ev)
			// Same chunk now falls through into ordinary turn handling.
		}
	}

	v, _ := e.vad.Evaluate(chunk)
	events = append(events, e.transition(now, v, chunk)...)
	return events
}

func (e *Engine) evaluateBargeIn(now time.Time, chunk []byte) (Event, bool) {
	probs := e.vad.FrameProbabilities(chunk)
	for _, p := range probs {
		if p >= frameProbThreshold {
			e.consecutiveSpeechFramesDuringBot++
		} else {
			e.consecutiveSpeechFramesDuringBot = 0
		}
		if e.consecutiveSpeechFramesDuringBot >= bargeInFrameThreshold {
			e.clearBotSpeaking()
			return Event{Type: BargeIn, Timestamp: now}, true
		}
	}
	return Event{}, false
}

// evaluateTimers implements the timer-driven state transitions.
func (e *Engine) evaluateTimers(now time.Time) []Event {
	var events []Event

	switch e.state {
	case Idle:
		if e.nudgeCount < e.cfg.MaxNudges && !e.idleEnteredAt.IsZero() &&
			now.Sub(e.idleEnteredAt) >= time.Duration(e.cfg.NudgeMs)*time.Millisecond {
			e.nudgeCount++
			e.idleEnteredAt = now
			events = append(events, Event{Type: Nudge, Timestamp: now})
		}

	case Listening, CandidateEnd:
		if e.state == Listening && !e.silenceStartedAt.IsZero() &&
			now.Sub(e.silenceStartedAt) >= time.Duration(e.cfg.CandidateEndMs)*time.Millisecond {
			e.state = CandidateEnd
		}
		// A LISTENING engine whose silence already covers the final window
		// emits TURN_END in this same evaluation.
		if e.state == CandidateEnd && !e.silenceStartedAt.IsZero() {
			threshold := time.Duration(e.cfg.CandidateEndMs+e.cfg.FinalEndMs) * time.Millisecond
			if now.Sub(e.silenceStartedAt) >= threshold {
				if e.speechAccumulatedMs >= e.cfg.MinSpeechMs {
					buf := e.drainBuffer()
					events = append(events, Event{Type: TurnEnd, Buffer: buf, Timestamp: now})
				}
				e.resetToIdle(now)
			}
		}

	case WaitingIncomplete:
		if !e.cuedThisWait &&
			now.Sub(e.incompleteStartedAt) >= time.Duration(e.cfg.IncompleteWaitMs)*time.Millisecond {
			e.cuedThisWait = true
			e.continuationCount++
			events = append(events, Event{Type: ContinuationCue, Timestamp: now})
		}
		if !e.comfortedThisWait &&
			now.Sub(e.incompleteStartedAt) >= time.Duration(e.cfg.ComfortWaitMs)*time.Millisecond {
			e.comfortedThisWait = true
			e.comfortCount++
			events = append(events, Event{Type: Comfort, Timestamp: now})
			e.resetToIdle(now)
		}
	}

	return events
}

// transition implements the chunk-driven state transitions.
func (e *Engine) transition(now time.Time, v vad.Verdict, chunk []byte) []Event {
	var events []Event

	switch e.state {
	case Idle:
		if v == vad.Voice || v == vad.Uncertain {
			e.state = Listening
			e.buffer.Reset()
			e.buffer.Write(chunk)
			e.listeningStartedAt = now
			e.silenceStartedAt = time.Time{}
			e.speechAccumulatedMs += chunkDurationMs(chunk)
		}

	case Listening:
		e.buffer.Write(chunk)
		switch v {
		case vad.Voice:
			e.silenceStartedAt = time.Time{}
			e.speechAccumulatedMs += chunkDurationMs(chunk)
		case vad.Silence, vad.WeakSignal:
			if e.silenceStartedAt.IsZero() {
				e.silenceStartedAt = now
			}
		case vad.Uncertain:
			// In LISTENING, Uncertain is treated as silence to avoid
			// spurious extension of the turn.
			if e.silenceStartedAt.IsZero() {
				e.silenceStartedAt = now
			}
		}
		if !e.silenceStartedAt.IsZero() &&
			now.Sub(e.silenceStartedAt) >= time.Duration(e.cfg.CandidateEndMs)*time.Millisecond {
			e.state = CandidateEnd
		}

	case CandidateEnd:
		if v == vad.Voice {
			e.state = Listening
			e.silenceStartedAt = time.Time{}
			e.buffer.Write(chunk)
			e.speechAccumulatedMs += chunkDurationMs(chunk)
		}

	case WaitingIncomplete:
		if v == vad.Voice {
			e.state = Listening
			e.listeningStartedAt = now
			e.silenceStartedAt = time.Time{}
			e.buffer.Write(chunk)
			e.speechAccumulatedMs += chunkDurationMs(chunk)
		}
	}

	return events
}

func (e *Engine) resetToIdle(now time.Time) {
	e.state = Idle
	e.buffer.Reset()
	e.speechAccumulatedMs = 0
	e.listeningStartedAt = time.Time{}
	e.silenceStartedAt = time.Time{}
	e.incompleteStartedAt = time.Time{}
	e.idleEnteredAt = now
}

func (e *Engine) drainBuffer() []byte {
	buf := make([]byte, e.buffer.Len())
	copy(buf, e.buffer.Bytes())
	e.buffer.Reset()
	return buf
}

// chunkDurationMs converts a 16-bit mono 16kHz PCM byte slice into its
// playback duration in milliseconds.
func chunkDurationMs(chunk []byte) int {
	samples := len(chunk) / 2
	return samples * 1000 / vad.SampleRate
}
