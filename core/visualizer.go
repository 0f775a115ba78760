package orchestration

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	outputBarCount  = 9
	inputBarCount   = 10
	centerBar       = 4
	minBarHeight    = 5.0
	maxBarHeight    = 150.0
	idleThreshold   = 2.0
	DefaultFrameFPS = 60
)

type InputVisualState int

const (
	// InputOpen: the microphone tap is attached but no recognition session
	// is live.
	InputOpen InputVisualState = iota
	// InputMuted: no microphone tap.
	InputMuted
	// InputRecognizing: a recognition session is live.
	InputRecognizing
)

func (s InputVisualState) String() string {
	switch s {
	case InputMuted:
		return "muted"
	case InputRecognizing:
		return "recognizing"
	default:
		return "open"
	}
}

// HSL is a color with hue in degrees and saturation and lightness in percent.
type HSL struct {
	H, S, L float64
}

type VisualizerFrame struct {
	// BarHeights are the output bars in pixels, at least minBarHeight.
	BarHeights [outputBarCount]float64
	// CenterGlow is the glow radius of the center output bar.
	CenterGlow float64
	// BarSamples are the input bars as a fraction of full height.
	BarSamples [inputBarCount]float64
	BarColors  [inputBarCount]HSL
	InputState InputVisualState
	Idle       bool
	// IdleChanged is set on the first frame after Idle flipped.
	IdleChanged bool
}

// ActivityScore weighs higher frequency bins more: Σ(v[i]·(1+i/n)) / Σ(1+i/n).
func ActivityScore(snapshot []byte) float64 {
	if len(snapshot) == 0 {
		return 0
	}

	n := float64(len(snapshot))
	var weightedSum, sum float64
	for i, value := range snapshot {
		weight := 1 + float64(i)/n
		weightedSum += float64(value) * weight
		sum += weight
	}
	return weightedSum / sum
}

// OutputBars splits the snapshot into 9 equal groups, one bar per group. An
// idle snapshot (activity below 2) yields minimum bars whatever the
// individual bins are.
func OutputBars(snapshot []byte) (heights [outputBarCount]float64, glow float64, idle bool) {
	if ActivityScore(snapshot) < idleThreshold {
		for i := range heights {
			heights[i] = minBarHeight
		}
		return heights, minBarHeight, true
	}

	groupSize := len(snapshot) / outputBarCount
	for i := range heights {
		maxValue := byte(0)
		for _, value := range snapshot[i*groupSize : (i+1)*groupSize] {
			maxValue = max(maxValue, value)
		}
		heights[i] = math.Max(minBarHeight, float64(maxValue)/255*maxBarHeight)
	}
	return heights, heights[centerBar] / 3, false
}

// InputBars samples 10 evenly spaced bins and colors them by state.
func InputBars(snapshot []byte, state InputVisualState) (samples [inputBarCount]float64, colors [inputBarCount]HSL) {
	for i := range samples {
		value := 0.0
		if len(snapshot) > 0 {
			value = float64(snapshot[i*len(snapshot)/inputBarCount])
		}
		samples[i] = value / 255
		colors[i] = BarColor(state, value)
	}
	return samples, colors
}

// BarColor maps a raw bin value (0-255) to the bar color for state.
func BarColor(state InputVisualState, value float64) HSL {
	switch state {
	case InputRecognizing:
		return HSL{H: 160 + value/2, S: 100, L: 50}
	case InputMuted:
		return HSL{H: 0, S: 100, L: 50 + value/5}
	default:
		return HSL{H: 200, S: 100, L: 50 + value/5}
	}
}

// FrameScheduler delivers display ticks until ctx is done.
type FrameScheduler interface {
	Frames(ctx context.Context) <-chan time.Time
}

type tickerScheduler struct {
	interval time.Duration
}

// NewTickerScheduler ticks fps times a second.
func NewTickerScheduler(fps int) FrameScheduler {
	if fps <= 0 {
		fps = DefaultFrameFPS
	}
	return tickerScheduler{interval: time.Second / time.Duration(fps)}
}

func (s tickerScheduler) Frames(ctx context.Context) <-chan time.Time {
	frames := make(chan time.Time)
	go func() {
		defer close(frames)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-ticker.C:
				select {
				case frames <- tick:
				case <-ctx.Done():
					return
				default:
					// renderer is behind, drop the frame
				}
			}
		}
	}()
	return frames
}

// VisualizationSampler turns analyzer snapshots into frames on every tick.
// Its only memory is the previous idle flag.
type VisualizationSampler struct {
	graph      *AudioGraph
	inputState func() InputVisualState
	scheduler  FrameScheduler
	onFrame    func(VisualizerFrame)

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	wasIdle bool
}

func NewVisualizationSampler(graph *AudioGraph, inputState func() InputVisualState, scheduler FrameScheduler, onFrame func(VisualizerFrame)) *VisualizationSampler {
	if inputState == nil {
		inputState = func() InputVisualState { return InputMuted }
	}
	if scheduler == nil {
		scheduler = NewTickerScheduler(DefaultFrameFPS)
	}
	if onFrame == nil {
		onFrame = func(VisualizerFrame) {}
	}

	return &VisualizationSampler{
		graph:      graph,
		inputState: inputState,
		scheduler:  scheduler,
		onFrame:    onFrame,
		wasIdle:    true,
	}
}

// Start begins sampling on every frame. Starting a running sampler is a
// no-op, so the tick rate never doubles.
func (v *VisualizationSampler) Start(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.stopped = make(chan struct{})
	frames := v.scheduler.Frames(ctx)
	go v.run(ctx, frames, v.stopped)
}

func (v *VisualizationSampler) run(ctx context.Context, frames <-chan time.Time, stopped chan<- struct{}) {
	defer close(stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-frames:
			if !ok {
				return
			}
			v.onFrame(v.Sample())
		}
	}
}

// Stop halts sampling and waits for the last frame to be delivered.
func (v *VisualizationSampler) Stop() {
	v.mu.Lock()
	cancel, stopped := v.cancel, v.stopped
	v.cancel, v.stopped = nil, nil
	v.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (v *VisualizationSampler) IsRunning() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancel != nil
}

// Sample derives a single frame from the current analyzer snapshots.
func (v *VisualizationSampler) Sample() VisualizerFrame {
	frame := VisualizerFrame{InputState: v.inputState()}
	frame.BarHeights, frame.CenterGlow, frame.Idle = OutputBars(v.graph.SampleOutput())
	frame.BarSamples, frame.BarColors = InputBars(v.graph.SampleInput(), frame.InputState)

	v.mu.Lock()
	frame.IdleChanged = frame.Idle != v.wasIdle
	v.wasIdle = frame.Idle
	v.mu.Unlock()

	return frame
}
