package pipeline

import (
	"reflect"
	"testing"

	"github.com/mivra/kotori-agent/internal/config"
)

func runPipeline(t *testing.T, cfg config.PipelineConfig, expressions map[string]string, tokens ...string) []SentenceOutput {
	t.Helper()
	p := New(cfg, expressions)
	in := make(chan string, len(tokens))
	for _, tok := range tokens {
		in <- tok
	}
	close(in)

	var got []SentenceOutput
	for rec := range p.Process(in) {
		got = append(got, rec)
	}
	return got
}

func TestPipelineEndToEnd(t *testing.T) {
	cfg := config.Default().Pipeline
	expressions := map[string]string{"joy": "joy"}

	got := runPipeline(t, cfg, expressions,
		"<thought>che", "ck the weather</thought>",
		"[joy] It's sunny today!", " Highs around 3", "0.5 degrees.",
	)

	want := []SentenceOutput{
		{DisplayText: "It's sunny today!", TTSText: "It's sunny today!", Actions: []string{"joy"}},
		{DisplayText: "Highs around 30.5 degrees.", TTSText: "Highs around 30.5 degrees."},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPipelineThoughtNeverLeaks(t *testing.T) {
	cfg := config.Default().Pipeline
	got := runPipeline(t, cfg, nil,
		"<thought>the user seems upset. tread carefully.</thought>",
		"I understand.",
	)

	for _, rec := range got {
		if rec.DisplayText == "" && rec.TTSText == "" {
			continue
		}
		if rec.DisplayText != "I understand." || rec.TTSText != "I understand." {
			t.Fatalf("thought content leaked: %+v", rec)
		}
	}
	if len(got) != 1 {
		t.Fatalf("expected one visible record, got %+v", got)
	}
}

func TestPipelineThinkShownNotSpoken(t *testing.T) {
	cfg := config.Default().Pipeline
	got := runPipeline(t, cfg, nil, "<think>carry the one.</think>The total is 42.")

	if len(got) < 2 {
		t.Fatalf("expected think and answer records, got %+v", got)
	}
	if got[0].DisplayText != "(carry the one." || got[0].TTSText != "" {
		t.Fatalf("unexpected think record: %+v", got[0])
	}
	last := got[len(got)-1]
	if last.DisplayText != "The total is 42." || last.TTSText != "The total is 42." {
		t.Fatalf("unexpected answer record: %+v", last)
	}
}

func TestPipelineSingleUsePerTurn(t *testing.T) {
	// Two turns through two pipelines must not share segmenter state:
	// faster first response applies to each turn's first sentence.
	cfg := config.Default().Pipeline
	first := runPipeline(t, cfg, nil, "Sure, one moment.")
	second := runPipeline(t, cfg, nil, "Okay, here it is.")

	if len(first) != 2 || first[0].DisplayText != "Sure," {
		t.Fatalf("first turn: %+v", first)
	}
	if len(second) != 2 || second[0].DisplayText != "Okay," {
		t.Fatalf("second turn: %+v", second)
	}
}
