// Package config loads the dialog settings from an optional YAML file and
// EMA_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "EMA"

type Config struct {
	Backend     BackendConfig     `mapstructure:"backend"`
	Dialog      DialogConfig      `mapstructure:"dialog"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Deepgram    DeepgramConfig    `mapstructure:"deepgram"`
	TTS         TTSConfig         `mapstructure:"tts"`
	Audio       AudioConfig       `mapstructure:"audio"`
	Visualizer  VisualizerConfig  `mapstructure:"visualizer"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DialogConfig struct {
	HistoryWindow int           `mapstructure:"history_window"`
	ThinkingDelay time.Duration `mapstructure:"thinking_delay"`
	ThinkingText  string        `mapstructure:"thinking_text"`
	FallbackText  string        `mapstructure:"fallback_text"`
	Greeting      string        `mapstructure:"greeting"`
}

type RecognitionConfig struct {
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	Language     string        `mapstructure:"language"`
}

type DeepgramConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type TTSConfig struct {
	Voice string `mapstructure:"voice"`
}

type AudioConfig struct {
	// InputBackend is "miniaudio" or "portaudio".
	InputBackend     string `mapstructure:"input_backend"`
	OutputSampleRate int    `mapstructure:"output_sample_rate"`
}

type VisualizerConfig struct {
	FPS int `mapstructure:"fps"`
}

const (
	InputBackendMiniaudio = "miniaudio"
	InputBackendPortaudio = "portaudio"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://localhost:5000/")
	v.SetDefault("backend.timeout", 60*time.Second)
	v.SetDefault("dialog.history_window", 6)
	v.SetDefault("dialog.thinking_delay", 10*time.Second)
	v.SetDefault("dialog.thinking_text", "AI is thinking...")
	v.SetDefault("dialog.fallback_text", "Sorry, I'm having trouble responding right now.")
	v.SetDefault("dialog.greeting", "Hello! How can I assist you today?")
	v.SetDefault("recognition.restart_delay", 100*time.Millisecond)
	v.SetDefault("recognition.language", "en-US")
	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("tts.voice", "")
	v.SetDefault("audio.input_backend", InputBackendMiniaudio)
	v.SetDefault("audio.output_sample_rate", 44100)
	v.SetDefault("visualizer.fps", 60)
}

// Load reads the config file at path, if any, and overlays environment
// variables such as EMA_BACKEND_URL or EMA_DEEPGRAM_API_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return fmt.Errorf("backend.url is required")
	}
	if c.Dialog.HistoryWindow <= 0 {
		return fmt.Errorf("dialog.history_window must be positive, got %d", c.Dialog.HistoryWindow)
	}
	switch c.Audio.InputBackend {
	case InputBackendMiniaudio, InputBackendPortaudio:
	default:
		return fmt.Errorf("audio.input_backend must be %q or %q, got %q", InputBackendMiniaudio, InputBackendPortaudio, c.Audio.InputBackend)
	}
	return nil
}
