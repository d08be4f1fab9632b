package conversation

import (
	"context"
	"strings"

	"github.com/lokutor-ai/turntaker/pkg/types"
)

// trailingIncomplete lists the connective-word endings that mark a
// transcript as linguistically incomplete (case-insensitive).
var trailingIncomplete = []string{
	"and", "so", "but", "or", "because",
	"i want to", "i need to", "i'm trying to", "so basically",
}

var leadingQuestionWords = []string{"who", "what", "where", "when", "why", "how", "which"}

// ruleVerdict is the fast-path result; ambiguous means the rule-based tier
// could not decide and LLM arbitration should be tried.
type ruleVerdict int

const (
	ruleComplete ruleVerdict = iota
	ruleIncomplete
	ruleAmbiguous
)

func ruleBasedCompleteness(text string) ruleVerdict {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ruleAmbiguous
	}
	lower := strings.ToLower(trimmed)

	if strings.HasSuffix(trimmed, "...") {
		return ruleIncomplete
	}
	for _, suffix := range trailingIncomplete {
		if lower == suffix || strings.HasSuffix(lower, " "+suffix) {
			return ruleIncomplete
		}
	}
	for _, qw := range leadingQuestionWords {
		if strings.HasPrefix(lower, qw+" ") && !strings.HasSuffix(trimmed, "?") {
			return ruleIncomplete
		}
	}

	// Text ending mid-word (no trailing punctuation/space, last token isn't
	// a recognisable closed form) is the ambiguous case that falls through
	// to LLM arbitration.
	if looksTruncated(trimmed) {
		return ruleAmbiguous
	}
	return ruleComplete
}

func looksTruncated(trimmed string) bool {
	if len(trimmed) == 0 {
		return false
	}
	last := trimmed[len(trimmed)-1]
	isWordChar := (last >= 'a' && last <= 'z') || (last >= 'A' && last <= 'Z')
	if !isWordChar {
		return false
	}
	words := strings.Fields(trimmed)
	if len(words) == 0 {
		return false
	}
	lastWord := strings.ToLower(words[len(words)-1])
	// A short (at most three letters), vowel-less trailing word with no
	// sentence-ending punctuation, such as "hmm", is treated as a hedge
	// rather than outright incomplete, deferring to the LLM.
	return len(lastWord) <= 3 && !strings.ContainsAny(lastWord, "aeiou")
}

// CompletenessGate implements a two-tier linguistic-completeness
// check: a cheap rule-based pass, falling back to at most one LLM call per
// turn when the rules are ambiguous.
type CompletenessGate struct {
	llm types.LLMProvider
}

func NewCompletenessGate(llm types.LLMProvider) *CompletenessGate {
	return &CompletenessGate{llm: llm}
}

// IsIncomplete returns true when the turn should be treated as linguistically
// incomplete and the engine sent back into WAITING_INCOMPLETE.
func (g *CompletenessGate) IsIncomplete(ctx context.Context, text string) bool {
	switch ruleBasedCompleteness(text) {
	case ruleIncomplete:
		return true
	case ruleComplete:
		return false
	}

	if g.llm == nil {
		// No arbitration available: treat ambiguous as complete so the
		// turn isn't stalled indefinitely.
		return false
	}

	prompt := []types.Message{
		{Role: "system", Content: "Answer with exactly one word, YES or NO. Is the following a linguistically complete sentence, with no dangling continuation implied?"},
		{Role: "user", Content: text},
	}
	reply, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		return false
	}
	reply = strings.ToUpper(strings.TrimSpace(reply))
	return strings.HasPrefix(reply, "NO")
}
