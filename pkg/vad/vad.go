// Package vad implements the VAD Evaluator: it maps a raw audio chunk to a
// probabilistic voice/no-voice verdict by classifying 20ms frames and
// aggregating the voiced-frame ratio over the chunk.
package vad

import "math"

const (
	// SampleRate is the canonical 16kHz mono input rate.
	SampleRate = 16000
	// FrameDurationMs is the canonical VAD frame duration.
	FrameDurationMs = 20
	// FrameBytes is 20ms of 16-bit mono PCM at 16kHz (320 samples * 2 bytes).
	FrameBytes = 640
)

// Verdict is the chunk-level classification returned by Evaluate.
type Verdict string

const (
	Voice      Verdict = "Voice"
	Uncertain  Verdict = "Uncertain"
	WeakSignal Verdict = "WeakSignal"
	Silence    Verdict = "Silence"
)

// Energy-fallback thresholds, normalised sample magnitude in [0,1].
const (
	energyClear     = 0.030
	energyUncertain = 0.015
	energyWeak      = 0.005
)

// FrameDetector classifies a single 20ms frame as voiced or not. Primary
// returns true, false or an error to signal "cannot classify, fall back".
type FrameDetector interface {
	IsVoiced(frame []byte) (bool, error)
	Name() string
}

// EnergyFrameDetector classifies a frame by RMS energy against the
// energy-fallback thresholds. It never errors, so it doubles as the
// always-available fallback for the primary detector.
type EnergyFrameDetector struct{}

func (EnergyFrameDetector) Name() string { return "energy" }

func (EnergyFrameDetector) IsVoiced(frame []byte) (bool, error) {
	return rms(frame) >= energyClear, nil
}

// classify returns the finer-grained energy bucket used both by the energy
// detector and by FrameProbabilities.
func classify(frame []byte) Verdict {
	r := rms(frame)
	switch {
	case r >= energyClear:
		return Voice
	case r >= energyUncertain:
		return Uncertain
	case r >= energyWeak:
		return WeakSignal
	default:
		return Silence
	}
}

func rms(frame []byte) float64 {
	if len(frame) < 2 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(frame); i += 2 {
		sample := int16(frame[i]) | int16(frame[i+1])<<8
		f := float64(sample) / 32768.0
		sum += f * f
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// WebRTCFrameDetector is the "standard WebRTC-style VAD at aggressiveness
// level 2" named by the contract. No pack example vendors a cgo WebRTC VAD
// binding, so this is a native, slightly stricter energy gate (a tighter
// clear-speech threshold than the fallback) representing that tier; it
// satisfies FrameDetector so Evaluator can swap it out for a different
// implementation without touching the aggregation logic.
type WebRTCFrameDetector struct {
	aggressiveness int
}

func NewWebRTCFrameDetector(aggressiveness int) *WebRTCFrameDetector {
	return &WebRTCFrameDetector{aggressiveness: aggressiveness}
}

func (d *WebRTCFrameDetector) Name() string { return "webrtc_style" }

func (d *WebRTCFrameDetector) IsVoiced(frame []byte) (bool, error) {
	threshold := energyClear
	// Higher aggressiveness narrows the voiced band, rejecting more
	// borderline frames, mirroring WebRTC's own aggressiveness knob.
	threshold += float64(d.aggressiveness) * 0.004
	return rms(frame) >= threshold, nil
}

// warner is the logging subset Evaluator needs.
type warner interface {
	Warn(msg string, args ...interface{})
}

// Evaluator implements the VAD contract: evaluate(chunk) -> verdict, p.
type Evaluator struct {
	primary  FrameDetector
	fallback FrameDetector
	logger   warner
}

// New builds an Evaluator. primary may be nil, in which case every frame
// uses the energy fallback.
func New(primary FrameDetector, logger warner) *Evaluator {
	return &Evaluator{primary: primary, fallback: EnergyFrameDetector{}, logger: logger}
}

// Evaluate classifies chunk and returns the aggregate verdict and its p value.
func (e *Evaluator) Evaluate(chunk []byte) (Verdict, float64) {
	if len(chunk) < FrameBytes {
		// Shorter than one frame: energy fallback alone, on the whole slice.
		if classify(chunk) == Silence {
			return Silence, 0.0
		}
		v := classify(chunk)
		return v, pFor(v)
	}

	total := 0
	speech := 0
	for off := 0; off+FrameBytes <= len(chunk); off += FrameBytes {
		frame := chunk[off : off+FrameBytes]
		total++
		if e.frameIsVoiced(frame) {
			speech++
		}
	}
	if total == 0 {
		return Silence, 0.0
	}
	r := float64(speech) / float64(total)
	switch {
	case r >= 0.50:
		return Voice, 1.0
	case r >= 0.25:
		return Uncertain, 0.5
	case r > 0:
		return WeakSignal, 0.3
	default:
		return Silence, 0.0
	}
}

// FrameProbabilities returns the per-20ms-frame VAD probability used by the
// barge-in detector, which acts on individual frames rather than the
// chunk-level aggregate.
func (e *Evaluator) FrameProbabilities(chunk []byte) []float64 {
	probs := make([]float64, 0, len(chunk)/FrameBytes+1)
	for off := 0; off+FrameBytes <= len(chunk); off += FrameBytes {
		frame := chunk[off : off+FrameBytes]
		if e.frameIsVoiced(frame) {
			probs = append(probs, 1.0)
		} else {
			probs = append(probs, pFor(classify(frame)))
		}
	}
	return probs
}

func (e *Evaluator) frameIsVoiced(frame []byte) bool {
	if e.primary == nil {
		return classify(frame) == Voice
	}
	voiced, err := e.safeIsVoiced(frame)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("vad: primary detector unavailable, using energy fallback", "err", err)
		}
		ok, _ := e.fallback.IsVoiced(frame)
		return ok
	}
	return voiced
}

// safeIsVoiced recovers from a panicking primary detector, treating it the
// same as a raised error per the "unavailable or raises" contract clause.
func (e *Evaluator) safeIsVoiced(frame []byte) (voiced bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			voiced, err = false, errRecovered(r)
		}
	}()
	return e.primary.IsVoiced(frame)
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "vad: recovered panic in primary detector" }

func errRecovered(v interface{}) error { return panicError{v} }

func pFor(v Verdict) float64 {
	switch v {
	case Voice:
		return 1.0
	case Uncertain:
		return 0.5
	case WeakSignal:
		return 0.3
	default:
		return 0.0
	}
}
