package pipeline

import "strings"

// ActionExtractor pulls bracketed expression markers like "[smile]"
// out of sentence text and maps them to configured action names. The
// markers are removed from the text; unknown bracketed words pass
// through untouched.
type ActionExtractor struct {
	// expressions maps lowercased marker keywords to action names.
	expressions map[string]string
}

// NewActionExtractor creates an extractor for the given keyword-to-action map.
func NewActionExtractor(expressions map[string]string) *ActionExtractor {
	normalized := make(map[string]string, len(expressions))
	for keyword, action := range expressions {
		normalized[strings.ToLower(keyword)] = action
	}
	return &ActionExtractor{expressions: normalized}
}

// Apply consumes sentences and produces sentences with their markers
// extracted, in order of appearance.
func (a *ActionExtractor) Apply(in <-chan SentenceWithTags) <-chan ActionedSentence {
	out := make(chan ActionedSentence, 8)
	go func() {
		defer close(out)
		for sentence := range in {
			out <- a.extract(sentence)
		}
	}()
	return out
}

func (a *ActionExtractor) extract(sentence SentenceWithTags) ActionedSentence {
	result := ActionedSentence{SentenceWithTags: sentence}
	if sentence.Text == "" || len(a.expressions) == 0 || atTagBoundary(sentence) {
		return result
	}

	var text strings.Builder
	rest := sentence.Text
	for {
		open := strings.IndexByte(rest, '[')
		if open == -1 {
			text.WriteString(rest)
			break
		}
		length := strings.IndexByte(rest[open:], ']')
		if length == -1 {
			text.WriteString(rest)
			break
		}
		end := open + length

		keyword := strings.ToLower(rest[open+1 : end])
		action, known := a.expressions[keyword]
		if !known {
			text.WriteString(rest[:end+1])
			rest = rest[end+1:]
			continue
		}

		text.WriteString(rest[:open])
		result.Actions = append(result.Actions, action)
		rest = rest[end+1:]
	}

	result.Text = strings.TrimSpace(text.String())
	return result
}

// atTagBoundary reports whether a tag opens or closes at this sentence.
// Boundary sentences pass through unscanned; markers there belong to
// the surrounding markup, not the spoken text.
func atTagBoundary(sentence SentenceWithTags) bool {
	for _, t := range sentence.Tags {
		switch t.State {
		case TagStateStart, TagStateEnd, TagStateComplete:
			return true
		}
	}
	return false
}
