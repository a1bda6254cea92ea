package pipeline

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/mivra/kotori-agent/internal/config"
)

// SpeechFilter produces the text handed to speech synthesis. Inner
// monologue is silenced and the remaining text is cleaned of markup
// and characters that read badly aloud.
type SpeechFilter struct {
	cfg config.SanitizerConfig
	md  goldmark.Markdown
}

// NewSpeechFilter creates a filter with the given sanitizer rules.
func NewSpeechFilter(cfg config.SanitizerConfig) *SpeechFilter {
	return &SpeechFilter{
		cfg: cfg,
		md:  goldmark.New(),
	}
}

// Apply consumes projected sentences and produces the final output
// records. Sentences that end up with no display text, no speech text,
// and no actions are dropped.
func (f *SpeechFilter) Apply(in <-chan ProjectedSentence) <-chan SentenceOutput {
	out := make(chan SentenceOutput, 8)
	go func() {
		defer close(out)
		for sentence := range in {
			record := SentenceOutput{
				DisplayText: sentence.DisplayText,
				TTSText:     f.speechText(sentence),
				Actions:     sentence.Actions,
			}
			if record.DisplayText == "" && record.TTSText == "" && len(record.Actions) == 0 {
				continue
			}
			out <- record
		}
	}()
	return out
}

// speechText renders the spoken form of one sentence.
func (f *SpeechFilter) speechText(sentence ProjectedSentence) string {
	if sentence.Tagged(tagThink) || sentence.Tagged(tagThought) {
		return ""
	}
	return f.Sanitize(sentence.Text)
}

// Sanitize applies the configured cleanup rules to text bound for
// speech synthesis.
func (f *SpeechFilter) Sanitize(input string) string {
	out := input
	if f.cfg.FlattenMarkdown {
		out = f.flattenMarkdown(out)
	}
	if f.cfg.IgnoreAsterisks {
		out = stripPairs(out, '*', '*')
	}
	if f.cfg.IgnoreBrackets {
		out = stripPairs(out, '[', ']')
	}
	if f.cfg.IgnoreParentheses {
		out = stripPairs(out, '(', ')')
		out = stripPairs(out, '（', '）')
	}
	if f.cfg.IgnoreAngleBracket {
		out = stripPairs(out, '<', '>')
	}
	if f.cfg.RemoveSpecialChars {
		out = removeSpecialChars(out)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(out), " "))
}

// flattenMarkdown strips markdown structure, keeping only the readable
// text content.
func (f *SpeechFilter) flattenMarkdown(input string) string {
	source := []byte(input)
	doc := f.md.Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.AutoLink:
			buf.Write(node.URL(source))
		default:
			if n.Type() == ast.TypeBlock && buf.Len() > 0 {
				buf.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// stripPairs removes delimited spans including the delimiters. An
// unmatched opener is kept as literal text.
func stripPairs(s string, opener, closer rune) string {
	var out strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != opener {
			out.WriteRune(runes[i])
			continue
		}
		end := -1
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == closer {
				end = j
				break
			}
		}
		if end == -1 {
			out.WriteRune(runes[i])
			continue
		}
		i = end
	}
	return out.String()
}

// removeSpecialChars drops emoji and other symbol runes that speech
// synthesis would read out or choke on.
func removeSpecialChars(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.In(r, unicode.So, unicode.Sk, unicode.Co, unicode.Cs):
			return -1
		case r >= 0x1F000 && r <= 0x1FFFF:
			return -1
		default:
			return r
		}
	}, s)
}
