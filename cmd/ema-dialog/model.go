package main

import (
	"errors"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	orchestration "github.com/koscakluka/ema-dialog/core"
	"github.com/koscakluka/ema-dialog/core/events"
)

const permissionNotice = "Microphone access is required for voice interactions"

// dialog is the part of the orchestrator the UI drives.
type dialog interface {
	SubmitText(text string) error
	ToggleListening() error
	StopSpeaking()
}

type actionErrMsg struct{ err error }

type line struct {
	role    string
	content string
}

type model struct {
	dialog  dialog
	input   textinput.Model
	spinner spinner.Model

	transcript   []line
	interim      string
	pendingTurn  string
	inputEnabled bool
	recognition  string
	frame        orchestration.VisualizerFrame
	notice       string
	status       string

	width  int
	height int
}

func newModel(d dialog) model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 2000
	input.Focus()

	return model{
		dialog:       d,
		input:        input,
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		inputEnabled: true,
		recognition:  orchestration.RecognitionIdle.String(),
		frame:        idleFrame(),
		width:        80,
		height:       24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(10, msg.Width-barsWidth(inputBarCount)-6)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		return m.handleEvent(msg.event)

	case frameMsg:
		m.frame = orchestration.VisualizerFrame(msg)
		return m, nil

	case actionErrMsg:
		if errors.Is(msg.err, orchestration.ErrPermissionDenied) {
			m.notice = permissionNotice
		} else if msg.err != nil {
			m.status = msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	// the permission notice swallows the next key
	if m.notice != "" {
		m.notice = ""
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlT:
		m.status = ""
		return m, m.run(m.dialog.ToggleListening)
	case tea.KeyCtrlS:
		return m, func() tea.Msg {
			m.dialog.StopSpeaking()
			return nil
		}
	case tea.KeyEnter:
		if !m.inputEnabled {
			return m, nil
		}
		text := m.input.Value()
		m.input.Reset()
		m.status = ""
		return m, m.run(func() error { return m.dialog.SubmitText(text) })
	}

	if !m.inputEnabled {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// run calls action off the UI goroutine; orchestrator calls publish events
// back through the bridge.
func (m model) run(action func() error) tea.Cmd {
	return func() tea.Msg {
		if err := action(); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m model) handleEvent(event events.Event) (tea.Model, tea.Cmd) {
	switch event := event.(type) {
	case events.TranscriptAppended:
		m.transcript = append(m.transcript, line{role: event.Role, content: event.Content})
		if event.Role == "user" {
			m.interim = ""
		}

	case events.UserTranscriptInterimUpdated:
		m.interim = event.Transcript

	case events.UserTranscriptFinal:
		m.interim = ""

	case events.InputAvailabilityChanged:
		m.inputEnabled = event.Enabled
		if event.Enabled {
			cmd := m.input.Focus()
			return m, cmd
		}
		m.input.Blur()

	case events.TurnStarted:
		m.pendingTurn = event.TurnID
	case events.TurnCompleted:
		m.settleTurn(event.TurnID)
	case events.TurnFailed:
		m.settleTurn(event.TurnID)
	case events.TurnCancelled:
		m.settleTurn(event.TurnID)

	case events.RecognitionStateChanged:
		m.recognition = event.State

	case events.RecognitionFailed:
		if event.Fatal {
			m.notice = permissionNotice
		}

	case events.AssistantOutputFailed:
		if event.Err != nil {
			m.status = event.Err.Error()
		}
	}
	return m, nil
}

// settleTurn clears the typing indicator unless a newer turn is pending.
func (m *model) settleTurn(turnID string) {
	if m.pendingTurn == turnID {
		m.pendingTurn = ""
	}
}
