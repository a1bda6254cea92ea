package pipeline

import (
	"github.com/mivra/kotori-agent/internal/config"
)

// Pipeline chains the four transform stages: segmentation, action
// extraction, display projection, and speech filtering.
type Pipeline struct {
	segmenter *Segmenter
	actions   *ActionExtractor
	display   *DisplayProjector
	speech    *SpeechFilter
}

// New builds a pipeline from configuration. Expressions maps action
// marker keywords to action names.
func New(cfg config.PipelineConfig, expressions map[string]string) *Pipeline {
	return &Pipeline{
		segmenter: NewSegmenter(cfg.FasterFirst()),
		actions:   NewActionExtractor(expressions),
		display:   NewDisplayProjector(),
		speech:    NewSpeechFilter(cfg.Sanitizer),
	}
}

// Process runs the token stream through all stages. Each call handles
// one turn; the returned channel closes when the input closes and all
// buffered text has flushed through.
func (p *Pipeline) Process(tokens <-chan string) <-chan SentenceOutput {
	return p.speech.Apply(p.display.Apply(p.actions.Apply(p.segmenter.Apply(tokens))))
}
