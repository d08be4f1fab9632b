package turntaking

import (
	"testing"
	"time"

	"github.com/lokutor-ai/turntaker/pkg/vad"
)

// scriptedEvaluator returns a fixed verdict/prob set regardless of the
// chunk bytes, letting tests drive the engine without real PCM math.
type scriptedEvaluator struct {
	verdict vad.Verdict
	probs   []float64
}

func (s scriptedEvaluator) Evaluate(chunk []byte) (vad.Verdict, float64) {
	return s.verdict, 0
}

func (s scriptedEvaluator) FrameProbabilities(chunk []byte) []float64 {
	return s.probs
}

func voiceChunk() []byte { return make([]byte, vad.FrameBytes) }

func TestIdleToListeningOnVoice(t *testing.T) {
	now := time.Now()
	e := New(DefaultConfig(), scriptedEvaluator{verdict: vad.Voice}, now)

	events := e.OnChunk(now, voiceChunk())
	if len(events) != 0 {
		t.Fatalf("expected no emitted events on turn start, got %v", events)
	}
	if e.State() != Listening {
		t.Fatalf("expected LISTENING, got %s", e.State())
	}
}

func TestNudgeCapsAtThree(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	e := New(cfg, scriptedEvaluator{verdict: vad.Silence}, now)

	var nudges int
	t0 := now
	for i := 0; i < 6; i++ {
		t0 = t0.Add(time.Duration(cfg.NudgeMs) * time.Millisecond)
		for _, ev := range e.OnTick(t0) {
			if ev.Type == Nudge {
				nudges++
			}
		}
	}
	if nudges != 3 {
		t.Fatalf("expected exactly 3 nudges, got %d", nudges)
	}
}

func TestTurnEndRequiresMinSpeech(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	eval := scriptedEvaluator{verdict: vad.Voice}
	e := New(cfg, eval, now)

	// One 20ms frame of speech: far below min_speech_ms=300.
	e.OnChunk(now, voiceChunk())

	// Now silence long enough to pass candidate_end + final_end. The first
	// silent chunk opens the silence window.
	silentEval := scriptedEvaluator{verdict: vad.Silence}
	e.vad = silentEval
	ts := now.Add(20 * time.Millisecond)
	e.OnChunk(ts, make([]byte, vad.FrameBytes))
	t1 := ts.Add(time.Duration(cfg.CandidateEndMs+cfg.FinalEndMs+50) * time.Millisecond)
	events := e.OnChunk(t1, make([]byte, vad.FrameBytes*5))

	for _, ev := range events {
		if ev.Type == TurnEnd {
			t.Fatalf("did not expect TURN_END below min_speech_ms")
		}
	}
	if e.State() != Idle {
		t.Fatalf("expected engine to revert to IDLE on noise-only turn, got %s", e.State())
	}
}

func TestTurnEndEmitsAfterSufficientSpeech(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	e := New(cfg, scriptedEvaluator{verdict: vad.Voice}, now)

	// Accumulate >= 300ms of speech via repeated chunks.
	t0 := now
	for i := 0; i < 20; i++ {
		t0 = t0.Add(20 * time.Millisecond)
		e.OnChunk(t0, voiceChunk())
	}

	// The first silent chunk opens the silence window.
	e.vad = scriptedEvaluator{verdict: vad.Silence}
	ts := t0.Add(20 * time.Millisecond)
	e.OnChunk(ts, make([]byte, vad.FrameBytes))
	t1 := ts.Add(time.Duration(cfg.CandidateEndMs+cfg.FinalEndMs+50) * time.Millisecond)
	events := e.OnChunk(t1, make([]byte, vad.FrameBytes*5))

	found := false
	for _, ev := range events {
		if ev.Type == TurnEnd {
			found = true
		}
	}
	if !found {
		t.Fatal("expected TURN_END after sufficient accumulated speech and silence")
	}
}

func TestBargeInAfterTwoConsecutiveVoicedFrames(t *testing.T) {
	now := time.Now()
	e := New(DefaultConfig(), scriptedEvaluator{verdict: vad.Silence, probs: []float64{0.8, 0.8}}, now)
	e.ArmBotSpeaking(now.Add(5 * time.Second))

	events := e.OnChunk(now.Add(40*time.Millisecond), make([]byte, vad.FrameBytes*2))

	found := false
	for _, ev := range events {
		if ev.Type == BargeIn {
			found = true
		}
	}
	if !found {
		t.Fatal("expected BARGE_IN after two consecutive voiced frames while bot speaking")
	}
	if e.botSpeaking {
		t.Fatal("expected bot_speaking cleared after barge-in")
	}
}

func TestBargeInDoesNotFireOnSingleVoicedFrame(t *testing.T) {
	now := time.Now()
	e := New(DefaultConfig(), scriptedEvaluator{verdict: vad.Silence, probs: []float64{0.8, 0.1}}, now)
	e.ArmBotSpeaking(now.Add(5 * time.Second))

	events := e.OnChunk(now.Add(40*time.Millisecond), make([]byte, vad.FrameBytes*2))
	for _, ev := range events {
		if ev.Type == BargeIn {
			t.Fatal("did not expect barge-in on a single voiced frame followed by non-speech")
		}
	}
}

func TestWaitingIncompleteResumesOnVoice(t *testing.T) {
	now := time.Now()
	e := New(DefaultConfig(), scriptedEvaluator{verdict: vad.Voice}, now)
	e.EnterWaitingIncomplete(now)

	e.OnChunk(now.Add(100*time.Millisecond), voiceChunk())
	if e.State() != Listening {
		t.Fatalf("expected WAITING_INCOMPLETE to resume into LISTENING on voice, got %s", e.State())
	}
}

func TestWaitingIncompleteEmitsContinuationThenComfort(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	e := New(cfg, scriptedEvaluator{verdict: vad.Silence}, now)
	e.EnterWaitingIncomplete(now)

	t1 := now.Add(time.Duration(cfg.IncompleteWaitMs+10) * time.Millisecond)
	var sawCue bool
	for _, ev := range e.OnTick(t1) {
		if ev.Type == ContinuationCue {
			sawCue = true
		}
	}
	if !sawCue {
		t.Fatal("expected CONTINUATION_CUE after incomplete_wait_ms of silence")
	}

	t2 := now.Add(time.Duration(cfg.ComfortWaitMs+10) * time.Millisecond)
	var sawComfort bool
	for _, ev := range e.OnTick(t2) {
		if ev.Type == Comfort {
			sawComfort = true
		}
	}
	if !sawComfort {
		t.Fatal("expected COMFORT after comfort_wait_ms of silence")
	}
	if e.State() != Idle {
		t.Fatalf("expected engine to return to IDLE after COMFORT, got %s", e.State())
	}
}
