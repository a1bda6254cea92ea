package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentence boundary runes. Strong boundaries always end a sentence;
// weak boundaries (comma class) only end the first sentence of a turn
// when faster first response is enabled, trading sentence quality for
// lower time-to-first-speech.
const (
	strongBoundaries = "。？！…～?!¿¡;；~\r\n„・："
	weakBoundaries   = "，、,"
)

// maxTagLen bounds how long a run of held-back text can still become a
// markup tag before it is treated as literal text.
const maxTagLen = 64

// Segmenter splits a token stream into sentences and tracks markup
// tags like <think> and <thought> across them. The automaton advances
// one rune at a time, so the produced sentences are identical whether
// the input arrives token by token or as one string.
type Segmenter struct {
	fasterFirst bool
}

// NewSegmenter creates a segmenter. When fasterFirst is set the first
// sentence may break at a weak boundary.
func NewSegmenter(fasterFirst bool) *Segmenter {
	return &Segmenter{fasterFirst: fasterFirst}
}

// Apply consumes tokens and produces sentences. The output channel
// closes once the input closes and the trailing text is flushed.
func (s *Segmenter) Apply(in <-chan string) <-chan SentenceWithTags {
	out := make(chan SentenceWithTags, 8)
	go func() {
		defer close(out)
		st := &segmentState{fasterFirst: s.fasterFirst, out: out}
		for token := range in {
			st.feed(token)
		}
		st.finish()
	}()
	return out
}

// openTag is one entry of the tag stack.
type openTag struct {
	name string
	// fresh is true until a sentence has been emitted with this tag, at
	// which point the tag reports Inside instead of Start.
	fresh bool
}

type segmentState struct {
	fasterFirst bool
	out         chan<- SentenceWithTags

	partial  []byte // trailing bytes of an incomplete UTF-8 rune
	sentence strings.Builder
	lastRune rune

	// candidate holds text after an unresolved '<' that may still turn
	// out to be a markup tag. Empty means no tag is being collected.
	candidate []rune

	stack   []openTag
	emitted int

	// pending is set when the last buffered rune was digit-adjacent
	// punctuation whose boundary decision depends on the next rune.
	pending     bool
	pendingWeak bool
}

// feed advances the automaton by one token.
func (st *segmentState) feed(token string) {
	data := append(st.partial, token...)
	st.partial = nil
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 && !utf8.FullRune(data) {
			// Incomplete rune split across tokens; wait for more bytes.
			st.partial = data
			return
		}
		st.step(r)
		data = data[size:]
	}
}

// step processes one rune.
func (st *segmentState) step(r rune) {
	if st.candidate != nil {
		st.stepTag(r)
		return
	}
	if r == '<' {
		st.candidate = []rune{'<'}
		return
	}
	st.stepText(r)
}

// stepTag advances the held-back tag candidate.
func (st *segmentState) stepTag(r rune) {
	if r == '<' {
		// A second '<' means the current candidate was literal text.
		st.literalize()
		st.candidate = []rune{'<'}
		return
	}
	if r == '>' {
		candidate := string(st.candidate) + ">"
		st.candidate = nil
		if name, closing, ok := parseTag(candidate); ok {
			st.applyTag(name, closing)
			return
		}
		st.replay(candidate)
		return
	}
	if !validTagRune(r, len(st.candidate)) || len(st.candidate) >= maxTagLen {
		st.literalize()
		st.stepText(r)
		return
	}
	st.candidate = append(st.candidate, r)
}

// literalize abandons the tag candidate and replays it as plain text.
func (st *segmentState) literalize() {
	candidate := string(st.candidate)
	st.candidate = nil
	st.replay(candidate)
}

// replay feeds already-consumed text back through the automaton with
// tag detection disabled for the leading '<'.
func (st *segmentState) replay(text string) {
	for i, r := range text {
		if i == 0 && r == '<' {
			st.stepText(r)
			continue
		}
		st.step(r)
	}
}

// validTagRune reports whether r may appear at position pos of a tag
// candidate (position 0 is '<').
func validTagRune(r rune, pos int) bool {
	if pos == 1 && r == '/' {
		return true
	}
	return r == '_' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// parseTag parses "<name>" or "</name>"; ok is false for anything else.
func parseTag(s string) (name string, closing bool, ok bool) {
	body := strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	if strings.HasPrefix(body, "/") {
		closing = true
		body = body[1:]
	}
	if body == "" {
		return "", false, false
	}
	first := rune(body[0])
	if !unicode.IsLetter(first) {
		return "", false, false
	}
	return strings.ToLower(body), closing, true
}

// applyTag updates the tag stack, emitting buffered text at the
// sentence/tag boundary.
func (st *segmentState) applyTag(name string, closing bool) {
	if !closing {
		st.pending = false // the tag itself is the boundary
		st.emit(false, nil)
		st.stack = append(st.stack, openTag{name: name, fresh: true})
		return
	}

	// Find the innermost matching open tag; an unmatched close tag is
	// dropped.
	idx := -1
	for i := len(st.stack) - 1; i >= 0; i-- {
		if st.stack[i].name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	closingState := TagStateEnd
	if st.stack[idx].fresh {
		closingState = TagStateComplete
	}
	override := map[string]TagState{name: closingState}
	st.pending = false
	st.emit(true, override)
	st.stack = append(st.stack[:idx], st.stack[idx+1:]...)
}

// stepText processes one plain-text rune, deciding sentence boundaries.
func (st *segmentState) stepText(r rune) {
	if st.pending {
		st.resolvePending(r)
	}

	st.sentence.WriteRune(r)
	prev := st.lastRune
	st.lastRune = r

	switch {
	case strings.ContainsRune(strongBoundaries, r):
		st.emit(false, nil)
	case r == '.' || r == ':':
		if unicode.IsDigit(prev) {
			st.pending = true
			st.pendingWeak = false
			return
		}
		st.emit(false, nil)
	case strings.ContainsRune(weakBoundaries, r):
		if r == ',' && unicode.IsDigit(prev) {
			st.pending = true
			st.pendingWeak = true
			return
		}
		st.emitWeak()
	}
}

// resolvePending settles a deferred digit-adjacent boundary now that
// the following rune (or end of stream, next == 0) is known. Decimal
// points, times, and digit-grouped numbers stay intact.
func (st *segmentState) resolvePending(next rune) {
	if !st.pending {
		return
	}
	st.pending = false
	if next != 0 && unicode.IsDigit(next) {
		return
	}
	if st.pendingWeak {
		st.emitWeak()
		return
	}
	st.emit(false, nil)
}

// emitWeak emits at a weak boundary, which only splits the first
// sentence under faster first response.
func (st *segmentState) emitWeak() {
	if st.fasterFirst && st.emitted == 0 {
		st.emit(false, nil)
	}
}

// emit flushes the sentence buffer. A blank buffer is only emitted when
// force is set (a closing tag must surface its End state even with no
// text). overrides replaces the state of specific tags.
func (st *segmentState) emit(force bool, overrides map[string]TagState) {
	text := strings.TrimSpace(st.sentence.String())
	st.sentence.Reset()
	st.lastRune = 0

	if text == "" && !force {
		return
	}

	var tags []Tag
	for i := range st.stack {
		state := TagStateInside
		if st.stack[i].fresh {
			state = TagStateStart
		}
		if overrides != nil {
			if s, ok := overrides[st.stack[i].name]; ok {
				state = s
			}
		}
		tags = append(tags, Tag{Name: st.stack[i].name, State: state})
		st.stack[i].fresh = false
	}

	st.out <- SentenceWithTags{Text: text, Tags: tags}
	st.emitted++
}

// finish flushes trailing state at end of stream.
func (st *segmentState) finish() {
	if st.candidate != nil {
		st.literalize()
	}
	st.resolvePending(0)
	st.emit(false, nil)
}
