package usecase

import "expense-agent/internal/domain"

const defaultPreviousMessageLimit = 10

// ContextWindow bounds how much prior conversation enters a request.
//
// It keeps the FIRST n turns exactly as supplied, not the most recent n.
// Callers that want recency must order and trim history before calling.
type ContextWindow struct {
	firstN int
}

// NewContextWindow returns a window of firstN turns; non-positive values
// fall back to the default of 10.
func NewContextWindow(firstN int) ContextWindow {
	if firstN <= 0 {
		firstN = defaultPreviousMessageLimit
	}
	return ContextWindow{firstN: firstN}
}

func (w ContextWindow) FirstN() int {
	if w.firstN <= 0 {
		return defaultPreviousMessageLimit
	}
	return w.firstN
}

// Window returns the first FirstN() turns of prior.
func (w ContextWindow) Window(prior []domain.Turn) []domain.Turn {
	n := w.FirstN()
	if len(prior) <= n {
		return prior
	}
	return prior[:n]
}

// Messages maps the windowed turns to request messages. Text turns are the
// assistant's own earlier replies; image turns are user-sent pictures.
func (w ContextWindow) Messages(prior []domain.Turn) []domain.RoleMessage {
	turns := w.Window(prior)
	out := make([]domain.RoleMessage, 0, len(turns))
	for _, t := range turns {
		if t.Kind == domain.TurnImage {
			out = append(out, domain.RoleMessage{Speaker: domain.SpeakerUser, ImageURL: t.Content})
			continue
		}
		out = append(out, domain.RoleMessage{Speaker: domain.SpeakerAssistant, Content: t.Content})
	}
	return out
}
