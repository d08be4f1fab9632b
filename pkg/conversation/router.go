package conversation

// RouterAction is the confidence router's verdict for one ASR result.
type RouterAction string

const (
	Accept  RouterAction = "ACCEPT"
	Clarify RouterAction = "CLARIFY"
	Reject  RouterAction = "REJECT"
)

// Route implements the confidence router: empty text always rejects
// regardless of confidence; otherwise the confidence bands apply.
func Route(text string, confidence float64) RouterAction {
	if !hasAlphanumeric(text) {
		return Reject
	}
	switch {
	case confidence >= 0.8:
		return Accept
	case confidence >= 0.3:
		return Accept
	case confidence >= 0.2:
		return Clarify
	default:
		return Reject
	}
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}

// InputQuality classifies a turn's text ahead of routing: EMPTY
// if there's no alphanumeric content, UNCLEAR if the router rejected it,
// CLEAR otherwise.
type InputQuality string

const (
	Empty   InputQuality = "EMPTY"
	Unclear InputQuality = "UNCLEAR"
	Clear   InputQuality = "CLEAR"
)

func ClassifyInput(text string, verdict RouterAction) InputQuality {
	if !hasAlphanumeric(text) {
		return Empty
	}
	if verdict == Reject {
		return Unclear
	}
	return Clear
}
