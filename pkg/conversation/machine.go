package conversation

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/turntaker/pkg/transport"
	"github.com/lokutor-ai/turntaker/pkg/types"
	"github.com/lokutor-ai/turntaker/pkg/vad"
)

// LatencyBreakdown surfaces per-turn adapter timings, adapted from the
// teacher's ManagedStream timestamp fields (sttStartTime..ttsEndTime) into a
// first-class, testable method instead of private fields on the actor.
type LatencyBreakdown struct {
	STT time.Duration
	LLM time.Duration
	TTS time.Duration
}

// DialogueState is the conversation state machine's state.
type DialogueState string

const (
	Init       DialogueState = "INIT"
	Greeting   DialogueState = "GREETING"
	Listening  DialogueState = "LISTENING"
	Processing DialogueState = "PROCESSING"
	Responding DialogueState = "RESPONDING"
	Clarifying DialogueState = "CLARIFYING"
	ErrorState DialogueState = "ERROR"
	End        DialogueState = "END"
)

const maxClarifications = 2
const maxTurns = 20

var (
	ErrMaxTurnsReached    = fmt.Errorf("conversation: max turn count reached")
	ErrTooManyClarifications = fmt.Errorf("conversation: clarification count exceeded")
)

// Machine owns the per-session dialogue state, counters and history, and
// orchestrates the external ASR/LLM/TTS adapters on the dialogue's behalf. It is
// generalised from the original Orchestrator+ConversationSession pairing
// into an explicit state machine.
type Machine struct {
	mu sync.RWMutex

	state               DialogueState
	turnCount           int
	clarificationCount  int
	silencePrompts      int
	history             []types.Message
	maxHistory          int
	pendingPrefix       string

	voice types.Voice
	lang  types.Language

	stt  types.STTProvider
	llm  types.LLMProvider
	tts  types.TTSProvider
	gate *CompletenessGate

	systemPrompt string
	logger       types.Logger

	lastLatency LatencyBreakdown
}

func NewMachine(stt types.STTProvider, llm types.LLMProvider, tts types.TTSProvider, voice types.Voice, lang types.Language, logger types.Logger) *Machine {
	if logger == nil {
		logger = &types.NoOpLogger{}
	}
	return &Machine{
		state:      Init,
		maxHistory: 40,
		voice:      voice,
		lang:       lang,
		stt:        stt,
		llm:        llm,
		tts:        tts,
		gate:       NewCompletenessGate(llm),
		logger:     logger,
	}
}

func (m *Machine) State() DialogueState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetLatencyBreakdown returns the most recently observed per-adapter
// latency for this machine's last processed turn.
func (m *Machine) GetLatencyBreakdown() LatencyBreakdown {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastLatency
}

func (m *Machine) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

func (m *Machine) HistoryCopy() []types.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Message, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Machine) addHistory(role, content string) {
	m.history = append(m.history, types.Message{Role: role, Content: content})
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

// Open transitions INIT -> GREETING and synthesizes the canned greeting.
func (m *Machine) Open(ctx context.Context, greetingText string) ([]byte, error) {
	m.mu.Lock()
	m.state = Greeting
	m.mu.Unlock()

	audio, err := m.tts.Synthesize(ctx, greetingText, m.voice, m.lang)
	if err != nil {
		m.transitionToError()
		return nil, fmt.Errorf("conversation: greeting synthesis failed: %w", err)
	}
	return audio, nil
}

// GreetingDispatched moves GREETING -> LISTENING once the greeting audio has
// been handed to the transport; the caller is expected to arm the turn-taking engine itself.
func (m *Machine) GreetingDispatched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Listening
}

// TurnOutcome is the result of processing one TURN_END buffer.
type TurnOutcome struct {
	Messages       []transport.ServerMessage
	Incomplete     bool
	ShouldEndAfter bool

	// BotSpeakingUntil is the estimated deadline through which the caller
	// should arm the turn-taking engine's barge-in detector, set whenever
	// this outcome dispatched a TTS artifact. Zero if no audio was dispatched.
	BotSpeakingUntil time.Time
}

// HandleTurnEnd implements the PROCESSING-state transition logic. pcm is the
// buffer carried by the turn-taking engine's TURN_END event; now is that
// event's timestamp, threaded through so every state transition this turn
// causes is seeded from the caller's clock rather than wall-clock time.
func (m *Machine) HandleTurnEnd(ctx context.Context, now time.Time, pcm []byte) (TurnOutcome, error) {
	m.mu.Lock()
	m.state = Processing
	m.mu.Unlock()

	sttStart := time.Now()
	result, err := m.stt.Transcribe(ctx, pcm, m.currentLanguage())
	m.mu.Lock()
	m.lastLatency.STT = time.Since(sttStart)
	m.mu.Unlock()
	if err != nil {
		return TurnOutcome{}, fmt.Errorf("conversation: transcription failed: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return m.enterClarifying("I didn't catch that, could you say it again?")
	}

	if m.gate.IsIncomplete(ctx, text) {
		m.mu.Lock()
		m.pendingPrefix = strings.TrimSpace(m.pendingPrefix + " " + text)
		m.state = Listening
		m.mu.Unlock()
		return TurnOutcome{Incomplete: true}, nil
	}

	m.mu.Lock()
	fullText := strings.TrimSpace(m.pendingPrefix + " " + text)
	m.pendingPrefix = ""
	m.mu.Unlock()

	verdict := Route(fullText, result.Confidence)
	switch verdict {
	case Reject:
		return m.enterClarifying("Sorry, I didn't understand. Could you repeat that?")
	case Clarify:
		return m.enterClarifying(fmt.Sprintf("Did you mean: %q?", fullText))
	}

	return m.respond(ctx, now, fullText, result.Confidence)
}

func (m *Machine) enterClarifying(prompt string) (TurnOutcome, error) {
	m.mu.Lock()
	m.state = Clarifying
	m.clarificationCount++
	exceeded := m.clarificationCount > maxClarifications
	m.mu.Unlock()

	if exceeded {
		m.transitionToError()
		return TurnOutcome{
			Messages: []transport.ServerMessage{
				transport.ErrorMessage("too_many_clarifications", "ending session after repeated clarification attempts"),
			},
			ShouldEndAfter: true,
		}, ErrTooManyClarifications
	}

	return TurnOutcome{
		Messages: []transport.ServerMessage{
			transport.Response(prompt, "", string(Clarifying)),
		},
	}, nil
}

func (m *Machine) respond(ctx context.Context, now time.Time, text string, confidence float64) (TurnOutcome, error) {
	m.mu.Lock()
	m.state = Responding
	m.addHistory("user", text)
	messages := m.messagesWithSystemPrompt()
	m.mu.Unlock()

	llmStart := time.Now()
	reply, err := m.llm.Complete(ctx, messages)
	m.mu.Lock()
	m.lastLatency.LLM = time.Since(llmStart)
	m.mu.Unlock()
	if err != nil {
		m.transitionToError()
		return TurnOutcome{}, fmt.Errorf("conversation: llm completion failed: %w", err)
	}

	ttsStart := time.Now()
	audio, err := m.tts.Synthesize(ctx, reply, m.voice, m.lang)
	m.mu.Lock()
	m.lastLatency.TTS = time.Since(ttsStart)
	m.mu.Unlock()
	if err != nil {
		m.transitionToError()
		return TurnOutcome{}, fmt.Errorf("conversation: tts synthesis failed: %w", err)
	}

	m.mu.Lock()
	m.addHistory("assistant", reply)
	m.turnCount++
	shouldEnd := m.turnCount >= maxTurns
	if shouldEnd {
		m.state = End
	} else {
		m.state = Listening
	}
	m.mu.Unlock()

	return TurnOutcome{
		Messages: []transport.ServerMessage{
			transport.Response(reply, encodeAudio(audio), string(Responding)),
		},
		ShouldEndAfter:   shouldEnd,
		BotSpeakingUntil: now.Add(pcmDurationMs(audio)),
	}, nil
}

// pcmDurationMs estimates playback duration for synthesized audio, assuming
// the same 16-bit mono PCM format the turn-taking pipeline uses elsewhere.
func pcmDurationMs(pcm []byte) time.Duration {
	samples := len(pcm) / 2
	return time.Duration(samples*1000/vad.SampleRate) * time.Millisecond
}

func (m *Machine) messagesWithSystemPrompt() []types.Message {
	if m.systemPrompt == "" {
		out := make([]types.Message, len(m.history))
		copy(out, m.history)
		return out
	}
	out := make([]types.Message, 0, len(m.history)+1)
	out = append(out, types.Message{Role: "system", Content: m.systemPrompt})
	out = append(out, m.history...)
	return out
}

func (m *Machine) currentLanguage() types.Language {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lang
}

func (m *Machine) transitionToError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = ErrorState
}

// Fatal records an out-of-band fatal adapter error, taking ERROR -> END per
// the "any -> fatal error -> ERROR" / "ERROR -> END" rows.
func (m *Machine) Fatal() transport.ServerMessage {
	m.mu.Lock()
	m.state = End
	m.mu.Unlock()
	return transport.ErrorMessage("fatal", "session ending due to an unrecoverable error")
}

func encodeAudio(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}
