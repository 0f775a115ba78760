// Command ema-dialog is a terminal voice assistant: it listens through the
// microphone, sends the conversation to the dialog backend and speaks the
// replies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	orchestration "github.com/koscakluka/ema-dialog/core"
	"github.com/koscakluka/ema-dialog/core/audio/miniaudio"
	"github.com/koscakluka/ema-dialog/core/audio/portaudio"
	"github.com/koscakluka/ema-dialog/core/audio/speaker"
	"github.com/koscakluka/ema-dialog/core/backend"
	"github.com/koscakluka/ema-dialog/core/config"
	sttdeepgram "github.com/koscakluka/ema-dialog/core/speechtotext/deepgram"
	ttsdeepgram "github.com/koscakluka/ema-dialog/core/texttospeech/deepgram"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	logPath := flag.String("log", "", "write logs to this file instead of discarding them")
	printSchema := flag.Bool("schema", false, "print the turn endpoint JSON schema and exit")
	listen := flag.Bool("listen", false, "start listening right away")
	flag.Parse()

	if *printSchema {
		schema, err := backend.Schema()
		if err != nil {
			log.Fatalf("failed to generate schema: %v", err)
		}
		fmt.Println(string(schema))
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if *logPath != "" {
		logFile, err := tea.LogToFile(*logPath, "ema-dialog")
		if err != nil {
			log.Fatalf("failed to open log file: %v", err)
		}
		defer logFile.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	if err := run(cfg, *listen); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, listen bool) error {
	microphone, err := newMicrophone(cfg.Audio.InputBackend)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	out, err := speaker.New(cfg.Audio.OutputSampleRate)
	if err != nil {
		return err
	}

	endpoint, err := backend.NewClient(cfg.Backend.URL, backend.WithTimeout(cfg.Backend.Timeout))
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	newTrack := func(sampleRate int) ttsdeepgram.Track { return out.NewPCMTrack(sampleRate) }

	bridge := newBridge()
	orchestrator := orchestration.NewOrchestrator(
		orchestration.WithConfig(cfg),
		orchestration.WithMicrophone(microphone),
		orchestration.WithSpeechToTextClient(sttdeepgram.NewClient(cfg.Deepgram.APIKey)),
		orchestration.WithTextToSpeechClient(ttsdeepgram.NewTextToSpeechClient(cfg.Deepgram.APIKey, newTrack)),
		orchestration.WithSpeaker(out),
		orchestration.WithTurnEndpoint(endpoint),
		orchestration.WithEventHandler(bridge.HandleEvent),
		orchestration.WithFrameCallback(bridge.HandleFrame),
		orchestration.WithFrameScheduler(orchestration.NewTickerScheduler(cfg.Visualizer.FPS)),
	)
	defer orchestrator.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	program := tea.NewProgram(newModel(orchestrator), tea.WithAltScreen(), tea.WithContext(ctx))
	go bridge.Forward(ctx, program.Send)

	var opts []orchestration.OrchestrateOption
	if listen {
		opts = append(opts, orchestration.WithListening())
	}
	go func() {
		// greeting synthesis blocks, so the UI starts first
		if err := orchestrator.Orchestrate(ctx, opts...); err != nil {
			program.Send(actionErrMsg{err: err})
		}
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}

func newMicrophone(inputBackend string) (orchestration.Microphone, error) {
	switch inputBackend {
	case config.InputBackendPortaudio:
		client, err := portaudio.NewClient(portaudio.DefaultBufferSize)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
