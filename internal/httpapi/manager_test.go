package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/turntaker/internal/store"
	"github.com/lokutor-ai/turntaker/pkg/session"
	"github.com/lokutor-ai/turntaker/pkg/turntaking"
	"github.com/lokutor-ai/turntaker/pkg/types"
	"github.com/lokutor-ai/turntaker/pkg/vad"
)

type stubSTT struct{}

func (stubSTT) Transcribe(ctx context.Context, pcm []byte, lang types.Language) (types.TranscriptionResult, error) {
	return types.TranscriptionResult{Text: "hello", Confidence: 0.9}, nil
}
func (stubSTT) Name() string { return "stub-stt" }

type stubLLM struct{}

func (stubLLM) Complete(ctx context.Context, messages []types.Message) (string, error) {
	return "hi there", nil
}
func (stubLLM) Name() string { return "stub-llm" }

type stubTTS struct{}

func (stubTTS) Synthesize(ctx context.Context, text string, voice types.Voice, lang types.Language) ([]byte, error) {
	return []byte{1, 2, 3}, nil
}
func (stubTTS) StreamSynthesize(ctx context.Context, text string, voice types.Voice, lang types.Language, onChunk func([]byte) error) error {
	return onChunk([]byte{1, 2, 3})
}
func (stubTTS) Abort() error { return nil }
func (stubTTS) Name() string { return "stub-tts" }

type alwaysSilence struct{}

func (alwaysSilence) Evaluate(chunk []byte) (vad.Verdict, float64) { return vad.Silence, 0.0 }
func (alwaysSilence) FrameProbabilities(chunk []byte) []float64   { return []float64{0.0} }

func newTestManager() *Manager {
	cfg := session.Config{IdleTimeout: 30 * time.Second, MaxSessionDuration: 600 * time.Second, TurnTaking: turntaking.DefaultConfig()}
	return NewManager(store.NewMemoryStore(), cfg, alwaysSilence{}, func() types.STTProvider { return stubSTT{} }, stubLLM{}, stubTTS{}, types.VoiceF1, types.LanguageEn, nil)
}

func TestManagerCreateTracksSession(t *testing.T) {
	m := newTestManager()
	sess, err := m.Create(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}

	got, ok := m.Get(sess.ID)
	if !ok || got.ID != sess.ID {
		t.Fatal("expected Get to find the created session")
	}

	ids, err := m.store.ActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != sess.ID {
		t.Fatalf("expected the new session in the active set, got %v", ids)
	}
}

func TestManagerCloseRemovesSession(t *testing.T) {
	m := newTestManager()
	sess, _ := m.Create(context.Background(), time.Now())

	now := time.Now()
	if err := m.Close(context.Background(), sess.ID, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := m.Get(sess.ID); ok {
		t.Fatal("expected session to be removed after Close")
	}

	ids, _ := m.store.ActiveSessions(context.Background())
	if len(ids) != 0 {
		t.Fatalf("expected empty active set after close, got %v", ids)
	}

	rec, ok, err := m.LoadPersisted(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected the closed session's record to remain persisted")
	}
	if rec.State != string(session.Closed) {
		t.Fatalf("expected persisted state CLOSED, got %s", rec.State)
	}
}

func TestManagerSweepIdleEvictsClosedSessions(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	sess, _ := m.Create(context.Background(), now)

	m.SweepIdle(context.Background(), now.Add(700*time.Second))

	if _, ok := m.Get(sess.ID); ok {
		t.Fatal("expected session past its TTL to be swept")
	}

	rec, ok, err := m.LoadPersisted(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || rec.State != string(session.Closed) {
		t.Fatalf("expected swept session's persisted state to be CLOSED, got %+v ok=%v", rec, ok)
	}
}
