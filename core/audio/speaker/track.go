package speaker

import (
	"errors"
	"sync"

	"github.com/faiface/beep"
	"github.com/koscakluka/ema-dialog/core/audio"
)

var ErrTrackStopped = errors.New("track stopped")

var _ audio.Source = (*Track)(nil)

// Track is a single piece of audio on the speaker. It is silent until Start,
// and Stop (or Disconnect) silences it synchronously: once Stop returns the
// speaker mixes no further samples from it.
type Track struct {
	speaker *Speaker
	source  beep.Streamer
	ctrl    *beep.Ctrl

	mu       sync.Mutex
	tap      audio.Tap
	started  bool
	finished bool
	err      error
	done     chan struct{}
}

func newTrack(s *Speaker, source beep.Streamer, rate beep.SampleRate) *Track {
	t := &Track{speaker: s, source: source, done: make(chan struct{})}

	streamer := source
	if rate > 0 && rate != s.sampleRate {
		streamer = beep.Resample(resampleQuality, rate, s.sampleRate, streamer)
	}
	t.ctrl = &beep.Ctrl{Streamer: &tapStreamer{track: t, source: streamer}}
	return t
}

func (t *Track) Start() error {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return ErrTrackStopped
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	// the callback runs on the speaker goroutine once the track is exhausted
	// or removed from the mixer
	t.speaker.play(beep.Seq(t.ctrl, beep.Callback(func() { t.finish(t.source.Err()) })))
	return nil
}

// Stop pauses the track, rewinds it when the source supports seeking, and
// removes it from the mixer. Repeated calls are ignored.
func (t *Track) Stop() {
	t.speaker.lock()
	t.ctrl.Paused = true
	t.ctrl.Streamer = nil
	if seeker, ok := t.source.(beep.StreamSeeker); ok {
		_ = seeker.Seek(0)
	}
	t.speaker.unlock()

	t.finish(nil)
}

// Done is closed when the track ends naturally, fails or is stopped.
func (t *Track) Done() <-chan struct{} { return t.done }

// Err reports the decoding error that ended the track, if any.
func (t *Track) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Track) Connect(tap audio.Tap) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.finished {
		t.tap = tap
	}
}

func (t *Track) Disconnect() {
	t.mu.Lock()
	t.tap = nil
	t.mu.Unlock()

	t.Stop()
}

func (t *Track) finish(err error) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.err = err
	t.tap = nil
	close(t.done)
	t.mu.Unlock()

	if closer, ok := t.source.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func (t *Track) deliver(samples [][2]float64) {
	t.mu.Lock()
	tap := t.tap
	t.mu.Unlock()
	if tap == nil {
		return
	}

	mono := make([]float64, len(samples))
	for i, frame := range samples {
		mono[i] = (frame[0] + frame[1]) / 2
	}
	tap(mono)
}

type tapStreamer struct {
	track  *Track
	source beep.Streamer
}

func (s *tapStreamer) Stream(samples [][2]float64) (int, bool) {
	n, ok := s.source.Stream(samples)
	if n > 0 {
		s.track.deliver(samples[:n])
	}
	return n, ok
}

func (s *tapStreamer) Err() error { return s.source.Err() }

// PCMTrack is a [Track] whose audio arrives incrementally, e.g. from a
// streaming speech synthesizer.
type PCMTrack struct {
	*Track
	pcm *pcmStreamer
}

// Write appends linear16 mono PCM.
func (t *PCMTrack) Write(pcm []byte) error {
	select {
	case <-t.Done():
		return ErrTrackStopped
	default:
	}

	return t.pcm.write(audio.Linear16ToFloat(pcm))
}

// CloseWrite marks the end of the audio; the track ends once the buffer
// drains.
func (t *PCMTrack) CloseWrite() { t.pcm.closeWrite() }

type pcmStreamer struct {
	mu     sync.Mutex
	buf    []float64
	closed bool
}

func (p *pcmStreamer) write(samples []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrTrackStopped
	}
	p.buf = append(p.buf, samples...)
	return nil
}

func (p *pcmStreamer) closeWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 && p.closed {
		return 0, false
	}

	n := min(len(samples), len(p.buf))
	for i := range n {
		samples[i] = [2]float64{p.buf[i], p.buf[i]}
	}
	p.buf = p.buf[n:]

	if p.closed {
		return n, true
	}

	// starved but still open: pad with silence to keep the device fed
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (p *pcmStreamer) Err() error { return nil }
