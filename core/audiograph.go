package orchestration

import (
	"sync"

	"github.com/koscakluka/ema-dialog/core/audio"
)

const (
	outputFFTSize = 256
	inputFFTSize  = 64
)

// AudioGraph holds the two frequency analyzers: one fed by whatever is
// audible to the user, one fed by the microphone.
//
// The output source is owned by the output arbiter and the input source by
// the recognition session; each side has a single writer.
type AudioGraph struct {
	mu sync.Mutex

	output       *audio.Analyzer
	outputSource audio.Source

	input       *audio.Analyzer
	inputSource audio.Source
}

func NewAudioGraph() *AudioGraph {
	return &AudioGraph{
		output: audio.NewAnalyzer(outputFFTSize),
		input:  audio.NewAnalyzer(inputFFTSize),
	}
}

// AttachOutputSource routes src into the output analyzer. A previously
// attached source is disconnected first, which silences it.
func (g *AudioGraph) AttachOutputSource(src audio.Source) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.outputSource == src {
		return
	}
	if g.outputSource != nil {
		g.outputSource.Disconnect()
	}

	g.output.Reset()
	g.outputSource = src
	if src != nil {
		src.Connect(g.output.Write)
	}
}

// DetachOutputSource disconnects src if it is still the attached output.
func (g *AudioGraph) DetachOutputSource(src audio.Source) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if src == nil || g.outputSource != src {
		return
	}

	g.outputSource.Disconnect()
	g.outputSource = nil
	g.output.Reset()
}

func (g *AudioGraph) AttachInputSource(src audio.Source) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inputSource == src {
		return
	}
	if g.inputSource != nil {
		g.inputSource.Disconnect()
	}

	g.inputSource = src
	if src != nil {
		src.Connect(g.input.Write)
	}
}

// DetachInputSource is a no-op when nothing is attached.
func (g *AudioGraph) DetachInputSource() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inputSource == nil {
		logger.Debug("input source already detached")
		return
	}

	g.inputSource.Disconnect()
	g.inputSource = nil
	g.input.Reset()
}

func (g *AudioGraph) HasInputSource() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inputSource != nil
}

func (g *AudioGraph) SampleOutput() []byte { return g.output.ByteFrequencyData() }
func (g *AudioGraph) SampleInput() []byte  { return g.input.ByteFrequencyData() }
