// Package speaker is the audible destination: it owns the output device and
// turns decoded audio (fetched files or streamed PCM) into tracks that can be
// started, stopped and tapped for analysis.
package speaker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const (
	DefaultSampleRate = 44100
	resampleQuality   = 4
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

type Speaker struct {
	sampleRate beep.SampleRate
	client     *http.Client

	play   func(...beep.Streamer)
	lock   func()
	unlock func()
}

type Option func(*Speaker)

// WithHTTPClient sets the client used to fetch audio URLs.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Speaker) {
		if client != nil {
			s.client = client
		}
	}
}

var initOnce sync.Once

// New initialises the output device at sampleRate. The device is process-wide,
// so only the first call's sample rate takes effect.
func New(sampleRate int, opts ...Option) (*Speaker, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	rate := beep.SampleRate(sampleRate)

	var initErr error
	initOnce.Do(func() {
		initErr = speaker.Init(rate, rate.N(time.Second/10))
	})
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialise speaker: %w", initErr)
	}

	s := newSpeaker(rate, speaker.Play, speaker.Lock, speaker.Unlock)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newSpeaker(rate beep.SampleRate, play func(...beep.Streamer), lock, unlock func()) *Speaker {
	return &Speaker{
		sampleRate: rate,
		client:     http.DefaultClient,
		play:       play,
		lock:       lock,
		unlock:     unlock,
	}
}

func (s *Speaker) SampleRate() int { return int(s.sampleRate) }

// Load fetches and decodes the audio at url. The returned track is silent
// until Start is called.
func (s *Speaker) Load(ctx context.Context, url string) (*Track, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch audio: non-OK HTTP status: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	streamer, format, err := decode(body, resp.Header.Get("Content-Type"), url)
	if err != nil {
		return nil, err
	}

	return newTrack(s, streamer, format.SampleRate), nil
}

// NewPCMTrack returns a track fed incrementally with linear16 mono PCM at
// sampleRate. It keeps playing (silence when starved) until CloseWrite is
// called and the buffered audio has drained.
func (s *Speaker) NewPCMTrack(sampleRate int) *PCMTrack {
	pcm := &pcmStreamer{}
	return &PCMTrack{
		Track: newTrack(s, pcm, beep.SampleRate(sampleRate)),
		pcm:   pcm,
	}
}

func decode(body []byte, contentType, url string) (beep.StreamSeekCloser, beep.Format, error) {
	kind := ""
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
			kind = "wav"
		case "audio/mpeg", "audio/mp3":
			kind = "mp3"
		}
	}
	if kind == "" {
		switch strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0])) {
		case ".wav":
			kind = "wav"
		case ".mp3":
			kind = "mp3"
		}
	}

	switch kind {
	case "wav":
		streamer, format, err := wav.Decode(bytes.NewReader(body))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("failed to decode wav: %w", err)
		}
		return streamer, format, nil
	case "mp3":
		streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(body)))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("failed to decode mp3: %w", err)
		}
		return streamer, format, nil
	}

	return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
}
