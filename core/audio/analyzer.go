package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultSmoothingTimeConstant = 0.8
	DefaultMinDecibels           = -100.0
	DefaultMaxDecibels           = -30.0
)

// Analyzer keeps a rolling window of the most recent samples and derives a
// byte-scaled frequency spectrum from it, the way a browser AnalyserNode
// reports getByteFrequencyData.
//
// Snapshots are recomputed lazily: if no samples were written since the last
// snapshot, the previous values are returned unchanged.
type Analyzer struct {
	mu sync.Mutex

	fftSize     int
	smoothing   float64
	minDecibels float64
	maxDecibels float64

	fft    *fourier.FFT
	window []float64

	ring []float64
	pos  int

	windowed []float64
	coeffs   []complex128
	smoothed []float64
	bins     []byte
	dirty    bool
}

type AnalyzerOption func(*Analyzer)

func WithSmoothingTimeConstant(smoothing float64) AnalyzerOption {
	return func(a *Analyzer) {
		if smoothing >= 0 && smoothing < 1 {
			a.smoothing = smoothing
		}
	}
}

func WithDecibelRange(minDecibels, maxDecibels float64) AnalyzerOption {
	return func(a *Analyzer) {
		if minDecibels < maxDecibels {
			a.minDecibels = minDecibels
			a.maxDecibels = maxDecibels
		}
	}
}

// NewAnalyzer creates an analyzer over fftSize samples, reporting fftSize/2
// frequency bins. fftSize is rounded up to an even number of at least 2.
func NewAnalyzer(fftSize int, opts ...AnalyzerOption) *Analyzer {
	if fftSize < 2 {
		fftSize = 2
	}
	if fftSize%2 != 0 {
		fftSize++
	}

	a := &Analyzer{
		fftSize:     fftSize,
		smoothing:   DefaultSmoothingTimeConstant,
		minDecibels: DefaultMinDecibels,
		maxDecibels: DefaultMaxDecibels,
		fft:         fourier.NewFFT(fftSize),
		window:      blackmanWindow(fftSize),
		ring:        make([]float64, fftSize),
		windowed:    make([]float64, fftSize),
		coeffs:      make([]complex128, fftSize/2+1),
		smoothed:    make([]float64, fftSize/2),
		bins:        make([]byte, fftSize/2),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) FFTSize() int           { return a.fftSize }
func (a *Analyzer) FrequencyBinCount() int { return a.fftSize / 2 }

// Write appends samples to the rolling window. It has the [Tap] signature so
// an analyzer can be connected to a [Source] directly.
func (a *Analyzer) Write(samples []float64) {
	if len(samples) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(samples) > a.fftSize {
		samples = samples[len(samples)-a.fftSize:]
	}
	for _, sample := range samples {
		a.ring[a.pos] = sample
		a.pos = (a.pos + 1) % a.fftSize
	}
	a.dirty = true
}

// Reset clears the window and the smoothed spectrum, as if the analyzer had
// only ever heard silence.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	clear(a.ring)
	clear(a.smoothed)
	clear(a.bins)
	a.pos = 0
	a.dirty = false
}

// ByteFrequencyData returns a copy of the current spectrum, one byte per bin,
// scaled from [minDecibels, maxDecibels] into [0, 255].
func (a *Analyzer) ByteFrequencyData() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dirty {
		a.compute()
		a.dirty = false
	}

	snapshot := make([]byte, len(a.bins))
	copy(snapshot, a.bins)
	return snapshot
}

func (a *Analyzer) compute() {
	// oldest sample first
	for i := range a.fftSize {
		a.windowed[i] = a.ring[(a.pos+i)%a.fftSize] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.windowed)

	scale := 255 / (a.maxDecibels - a.minDecibels)
	for k := range a.smoothed {
		magnitude := math.Hypot(real(a.coeffs[k]), imag(a.coeffs[k])) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*magnitude

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}

		value := math.Floor(scale * (db - a.minDecibels))
		switch {
		case math.IsNaN(value) || value < 0:
			a.bins[k] = 0
		case value > 255:
			a.bins[k] = 255
		default:
			a.bins[k] = byte(value)
		}
	}
}

func blackmanWindow(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2

	window := make([]float64, n)
	for i := range window {
		x := float64(i) / float64(n)
		window[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return window
}
