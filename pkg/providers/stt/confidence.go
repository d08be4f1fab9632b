package stt

import "math"

// confidenceFromSegments derives a transcript confidence score from
// Whisper-style segment log-probabilities: exp(mean(avg_logprob)).
func confidenceFromSegments(avgLogprobs []float64) float64 {
	if len(avgLogprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range avgLogprobs {
		sum += lp
	}
	mean := sum / float64(len(avgLogprobs))
	return math.Exp(mean)
}
