package pipeline

// Tag names with special rendering rules. "think" content is shown as
// a parenthesized aside; "thought" content is hidden entirely. Neither
// is ever spoken.
const (
	tagThink   = "think"
	tagThought = "thought"
)

// DisplayProjector renders the user-facing text for each sentence.
type DisplayProjector struct{}

// NewDisplayProjector creates a projector.
func NewDisplayProjector() *DisplayProjector {
	return &DisplayProjector{}
}

// Apply consumes actioned sentences and attaches their display
// rendering. Hidden sentences get an empty DisplayText but still flow
// through so their actions survive.
func (d *DisplayProjector) Apply(in <-chan ActionedSentence) <-chan ProjectedSentence {
	out := make(chan ProjectedSentence, 8)
	go func() {
		defer close(out)
		for sentence := range in {
			out <- ProjectedSentence{
				ActionedSentence: sentence,
				DisplayText:      d.project(sentence),
			}
		}
	}()
	return out
}

func (d *DisplayProjector) project(sentence ActionedSentence) string {
	if sentence.Tagged(tagThought) {
		return ""
	}

	text := sentence.Text
	if state, ok := sentence.TagState(tagThink); ok {
		switch state {
		case TagStateStart:
			text = "(" + text
		case TagStateEnd:
			text = text + ")"
		case TagStateComplete:
			text = "(" + text + ")"
		}
	}
	return text
}
