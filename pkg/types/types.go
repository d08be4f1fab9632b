// Package types holds the domain value types shared across the turn-taking
// core and its external adapters: languages, voices, chat messages and the
// closed ASR/LLM/TTS record shapes described by the adapter contracts.
package types

// Voice selects a synthesis voice on the TTS adapter.
type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

// Language is a BCP-47-ish short language tag understood by the adapters.
type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

// Message is one turn of dialogue history. History filtering at the LLM
// adapter boundary strips any field beyond these two.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TranscriptionResult is the closed record returned by an STTProvider,
// replacing the adapter's loose record with explicit fields per the
// transcribe(pcm_wav_path) -> {text, confidence, language} contract.
type TranscriptionResult struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Language   Language `json:"language,omitempty"`
}
