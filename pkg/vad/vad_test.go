package vad

import (
	"encoding/binary"
	"testing"
)

func toneFrame(amplitude int16, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := amplitude
		if i%2 == 1 {
			s = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func silenceChunk(frames int) []byte {
	return make([]byte, frames*FrameBytes)
}

func loudChunk(frames int) []byte {
	out := make([]byte, 0, frames*FrameBytes)
	for i := 0; i < frames; i++ {
		out = append(out, toneFrame(20000, FrameBytes/2)...)
	}
	return out
}

func TestEvaluateAllSilence(t *testing.T) {
	e := New(nil, nil)
	v, p := e.Evaluate(silenceChunk(5))
	if v != Silence || p != 0.0 {
		t.Fatalf("expected Silence/0.0, got %v/%v", v, p)
	}
}

func TestEvaluateAllVoice(t *testing.T) {
	e := New(nil, nil)
	v, p := e.Evaluate(loudChunk(5))
	if v != Voice || p != 1.0 {
		t.Fatalf("expected Voice/1.0, got %v/%v", v, p)
	}
}

func TestEvaluateMixedRatios(t *testing.T) {
	e := New(nil, nil)

	chunk := append(loudChunk(3), silenceChunk(3)...) // r = 0.5
	v, p := e.Evaluate(chunk)
	if v != Voice || p != 1.0 {
		t.Fatalf("expected Voice at r=0.5, got %v/%v", v, p)
	}

	chunk = append(loudChunk(1), silenceChunk(3)...) // r = 0.25
	v, p = e.Evaluate(chunk)
	if v != Uncertain || p != 0.5 {
		t.Fatalf("expected Uncertain at r=0.25, got %v/%v", v, p)
	}

	chunk = append(loudChunk(1), silenceChunk(9)...) // r = 0.1
	v, p = e.Evaluate(chunk)
	if v != WeakSignal || p != 0.3 {
		t.Fatalf("expected WeakSignal at r=0.1, got %v/%v", v, p)
	}
}

func TestEvaluateShortTailUsesEnergyFallback(t *testing.T) {
	e := New(nil, nil)
	v, _ := e.Evaluate(toneFrame(20000, 100))
	if v != Voice {
		t.Fatalf("expected short loud tail to classify Voice, got %v", v)
	}
}

type panickyDetector struct{}

func (panickyDetector) Name() string { return "panicky" }
func (panickyDetector) IsVoiced(frame []byte) (bool, error) {
	panic("boom")
}

func TestEvaluateFallsBackWhenPrimaryPanics(t *testing.T) {
	e := New(panickyDetector{}, nil)
	v, _ := e.Evaluate(loudChunk(5))
	if v != Voice {
		t.Fatalf("expected fallback to still classify loud chunk as Voice, got %v", v)
	}
}

func TestFrameProbabilitiesLength(t *testing.T) {
	e := New(nil, nil)
	probs := e.FrameProbabilities(loudChunk(4))
	if len(probs) != 4 {
		t.Fatalf("expected 4 frame probabilities, got %d", len(probs))
	}
	for _, p := range probs {
		if p != 1.0 {
			t.Fatalf("expected all probabilities 1.0 for loud chunk, got %v", p)
		}
	}
}
