package main

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/koscakluka/ema-dialog/core"
)

const (
	outputBarCount = len(orchestration.VisualizerFrame{}.BarHeights)
	inputBarCount  = len(orchestration.VisualizerFrame{}.BarSamples)

	outputRows = 8
	inputRows  = 3
	// output bar heights are in pixels of a 150px tall visualizer
	outputFullHeight = 150.0
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5fafff"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#87d7af"))
	interimStyle   = lipgloss.NewStyle().Italic(true).Faint(true)
	helpStyle      = lipgloss.NewStyle().Faint(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f"))
	idleBarColor   = lipgloss.Color("#444444")
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	noticeStyle    = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#ff5f5f")).
			Padding(1, 3)
)

func idleFrame() orchestration.VisualizerFrame {
	heights, glow, idle := orchestration.OutputBars(nil)
	samples, colors := orchestration.InputBars(nil, orchestration.InputMuted)
	return orchestration.VisualizerFrame{
		BarHeights: heights,
		CenterGlow: glow,
		BarSamples: samples,
		BarColors:  colors,
		InputState: orchestration.InputMuted,
		Idle:       idle,
	}
}

func (m model) View() string {
	if m.notice != "" {
		notice := noticeStyle.Render(m.notice + "\n\n" + helpStyle.Render("press any key to continue"))
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, notice)
	}

	output := lipgloss.PlaceHorizontal(m.width, lipgloss.Center, outputBars(m.frame))
	footer := m.footer()
	bottom := lipgloss.JoinHorizontal(lipgloss.Center, inputBars(m.frame), " ", inputBoxStyle.Render(m.input.View()))

	transcriptHeight := m.height - lipgloss.Height(output) - lipgloss.Height(bottom) - lipgloss.Height(footer)
	transcript := m.renderTranscript(max(1, transcriptHeight))

	return lipgloss.JoinVertical(lipgloss.Left, output, transcript, bottom, footer)
}

// renderTranscript returns the last height lines of the conversation.
func (m model) renderTranscript(height int) string {
	width := max(10, m.width-2)

	var lines []string
	for _, entry := range m.transcript {
		label := assistantStyle.Render("Assistant: ")
		if entry.role == "user" {
			label = userStyle.Render("You: ")
		}
		lines = append(lines, strings.Split(wordwrap.String(label+entry.content, width), "\n")...)
	}
	if m.interim != "" {
		lines = append(lines, strings.Split(interimStyle.Render(wordwrap.String(m.interim, width)), "\n")...)
	}
	if m.pendingTurn != "" {
		lines = append(lines, m.spinner.View()+" AI is typing...")
	}

	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	for len(lines) < height {
		lines = append([]string{""}, lines...)
	}
	return strings.Join(lines, "\n")
}

func (m model) footer() string {
	help := helpStyle.Render("mic: " + m.recognition + " • enter send • ctrl+t mic • ctrl+s stop speaking • ctrl+c quit")
	if m.status == "" {
		return help
	}
	return lipgloss.JoinVertical(lipgloss.Left, statusStyle.Render(m.status), help)
}

func outputBars(frame orchestration.VisualizerFrame) string {
	levels := make([]int, outputBarCount)
	colors := make([]lipgloss.TerminalColor, outputBarCount)
	for i, height := range frame.BarHeights {
		levels[i] = max(1, int(math.Round(height/outputFullHeight*outputRows)))
		colors[i] = idleBarColor
		if !frame.Idle {
			lightness := 50.0
			if i == len(frame.BarHeights)/2 {
				lightness += frame.CenterGlow / outputFullHeight * 100
			}
			colors[i] = hslColor(orchestration.HSL{H: 200, S: 100, L: lightness})
		}
	}
	return renderBars(levels, colors, outputRows)
}

func inputBars(frame orchestration.VisualizerFrame) string {
	levels := make([]int, inputBarCount)
	colors := make([]lipgloss.TerminalColor, inputBarCount)
	for i, sample := range frame.BarSamples {
		levels[i] = max(1, int(math.Round(sample*inputRows)))
		colors[i] = hslColor(frame.BarColors[i])
	}
	return renderBars(levels, colors, inputRows)
}

func barsWidth(n int) int { return n * 3 }

// renderBars draws bottom-aligned bars, each two cells wide with a gap.
func renderBars(levels []int, colors []lipgloss.TerminalColor, rows int) string {
	var b strings.Builder
	for row := rows; row >= 1; row-- {
		for i, level := range levels {
			if level >= row {
				b.WriteString(lipgloss.NewStyle().Foreground(colors[i]).Render("██"))
			} else {
				b.WriteString("  ")
			}
			b.WriteString(" ")
		}
		if row > 1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// hslColor converts h (degrees), s and l (percent) to a terminal color.
// Lightness above 100 is clamped.
func hslColor(c orchestration.HSL) lipgloss.Color {
	return lipgloss.Color(colorful.Hsl(c.H, c.S/100, math.Min(c.L, 100)/100).Clamped().Hex())
}
