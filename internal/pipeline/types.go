// Package pipeline transforms a raw completion token stream into
// per-sentence display text, speech text, and actions. It runs as four
// chained stages, each a goroutine reading its input channel and
// closing its output channel when the input drains.
package pipeline

// TagState describes how a markup tag relates to one sentence.
type TagState int

const (
	// TagStateStart marks a tag that opens at this sentence.
	TagStateStart TagState = iota
	// TagStateInside marks a tag that spans this whole sentence.
	TagStateInside
	// TagStateEnd marks a tag that closes at this sentence.
	TagStateEnd
	// TagStateComplete marks a tag that opens and closes within this
	// sentence.
	TagStateComplete
)

func (s TagState) String() string {
	switch s {
	case TagStateStart:
		return "start"
	case TagStateInside:
		return "inside"
	case TagStateEnd:
		return "end"
	case TagStateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Tag is one markup tag active on a sentence, e.g. <think> or
// <thought>.
type Tag struct {
	Name  string
	State TagState
}

// SentenceWithTags is one segmented sentence and the tags active on it.
// An empty Tags slice means the sentence is plain untagged text.
type SentenceWithTags struct {
	Text string
	Tags []Tag
}

// Tagged reports whether the given tag name is active on the sentence.
func (s SentenceWithTags) Tagged(name string) bool {
	for _, t := range s.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// TagState returns the state of the named tag and whether it is present.
func (s SentenceWithTags) TagState(name string) (TagState, bool) {
	for _, t := range s.Tags {
		if t.Name == name {
			return t.State, true
		}
	}
	return 0, false
}

// ActionedSentence is a sentence after action-marker extraction: the
// markers are removed from the text and collected as actions.
type ActionedSentence struct {
	SentenceWithTags
	Actions []string
}

// ProjectedSentence carries the user-facing display rendering alongside
// the sentence it was derived from.
type ProjectedSentence struct {
	ActionedSentence
	DisplayText string
}

// SentenceOutput is the pipeline's final product for one sentence.
type SentenceOutput struct {
	// DisplayText is shown to the user, with inner-monologue markup
	// rendered as parentheses or dropped.
	DisplayText string `json:"display_text"`
	// TTSText is the cleaned text handed to speech synthesis. Empty
	// means the sentence is silent.
	TTSText string `json:"tts_text"`
	// Actions are the expression or motion cues extracted from the
	// sentence, in order of appearance.
	Actions []string `json:"actions"`
}
