package pipeline

import "testing"

func project(t *testing.T, s ActionedSentence) string {
	t.Helper()
	d := NewDisplayProjector()
	in := make(chan ActionedSentence, 1)
	in <- s
	close(in)
	out := <-d.Apply(in)
	return out.DisplayText
}

func actioned(text string, tags ...Tag) ActionedSentence {
	return ActionedSentence{SentenceWithTags: SentenceWithTags{Text: text, Tags: tags}}
}

func TestDisplayPlainSentence(t *testing.T) {
	if got := project(t, actioned("Hello there.")); got != "Hello there." {
		t.Fatalf("unexpected display: %q", got)
	}
}

func TestDisplayHidesThought(t *testing.T) {
	for _, state := range []TagState{TagStateStart, TagStateInside, TagStateEnd, TagStateComplete} {
		got := project(t, actioned("secret planning", Tag{Name: "thought", State: state}))
		if got != "" {
			t.Fatalf("thought leaked in state %v: %q", state, got)
		}
	}
}

func TestDisplayParenthesizesThink(t *testing.T) {
	tests := []struct {
		state TagState
		want  string
	}{
		{TagStateStart, "(Hmm."},
		{TagStateInside, "Hmm."},
		{TagStateEnd, "Hmm.)"},
		{TagStateComplete, "(Hmm.)"},
	}
	for _, tt := range tests {
		got := project(t, actioned("Hmm.", Tag{Name: "think", State: tt.state}))
		if got != tt.want {
			t.Fatalf("state %v: got %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestDisplayEmptyEndTag(t *testing.T) {
	if got := project(t, actioned("", Tag{Name: "think", State: TagStateEnd})); got != ")" {
		t.Fatalf("expected closing parenthesis, got %q", got)
	}
}
