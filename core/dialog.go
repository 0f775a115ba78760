package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-dialog/core/conversation"
	"github.com/koscakluka/ema-dialog/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHistoryWindow = 6
	DefaultThinkingDelay = 10 * time.Second
	DefaultThinkingText  = "AI is thinking..."
	DefaultFallbackText  = "Sorry, I'm having trouble responding right now."
	DefaultGreeting      = "Hello! How can I assist you today?"
)

// TurnRequest is one request for an assistant reply. Its context is
// cancelled as soon as a newer request supersedes it.
type TurnRequest struct {
	ID      string
	History []conversation.Turn

	ctx       context.Context
	cancel    context.CancelFunc
	responded atomic.Bool
}

type outputSink interface {
	Speak(ctx context.Context, text string) error
	SpeakIf(ctx context.Context, text string, allowed func() bool) error
	PlayIf(ctx context.Context, url string, allowed func() bool) error
}

type dialogConfig struct {
	historyWindow int
	thinkingDelay time.Duration
	thinkingText  string
	fallbackText  string
	greeting      string
}

func defaultDialogConfig() dialogConfig {
	return dialogConfig{
		historyWindow: DefaultHistoryWindow,
		thinkingDelay: DefaultThinkingDelay,
		thinkingText:  DefaultThinkingText,
		fallbackText:  DefaultFallbackText,
		greeting:      DefaultGreeting,
	}
}

// DialogTurnController turns user input into assistant replies. Only the
// newest request matters: a request superseded before it resolves never
// touches the history or the output.
type DialogTurnController struct {
	mu           sync.Mutex
	active       *TurnRequest
	inputEnabled bool
	greeted      bool
	closed       bool
	baseContext  context.Context
	wg           sync.WaitGroup

	history   *conversation.History
	endpoint  TurnEndpoint
	output    outputSink
	config    dialogConfig
	afterFunc afterFunc
	emitEvent eventEmitter
}

func newDialogTurnController(history *conversation.History, endpoint TurnEndpoint, output outputSink, config dialogConfig) *DialogTurnController {
	return &DialogTurnController{
		inputEnabled: true,
		baseContext:  context.Background(),
		history:      history,
		endpoint:     endpoint,
		output:       output,
		config:       config,
		afterFunc:    realAfterFunc,
		emitEvent:    noopEventEmitter,
	}
}

func (c *DialogTurnController) setBaseContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseContext = ctx
}

// InputEnabled reports whether typed input is currently accepted.
func (c *DialogTurnController) InputEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputEnabled
}

// Pending reports whether a turn request is waiting for its reply.
func (c *DialogTurnController) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// HandleTranscript starts a turn for recognized speech. It is always
// accepted and supersedes a pending turn.
func (c *DialogTurnController) HandleTranscript(transcript string) error {
	return c.startTurn(transcript, false)
}

// SubmitText starts a turn for typed input. It is rejected while a turn is
// pending.
func (c *DialogTurnController) SubmitText(text string) error {
	return c.startTurn(text, true)
}

// Greet appends and speaks the greeting. Only the first call has an effect.
func (c *DialogTurnController) Greet(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.greeted || c.config.greeting == "" {
		c.mu.Unlock()
		return nil
	}
	c.greeted = true
	c.history.Append(conversation.AssistantTurn(c.config.greeting))
	c.mu.Unlock()

	c.emitEvent(events.NewTranscriptAppended(string(conversation.RoleAssistant), c.config.greeting))
	return c.output.Speak(ctx, c.config.greeting)
}

func (c *DialogTurnController) startTurn(text string, typed bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	// wg.Add must not race the final wait
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if typed && !c.inputEnabled {
		c.mu.Unlock()
		return ErrInputDisabled
	}
	if c.endpoint == nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to start turn: %w", ErrNotConfigured)
	}

	previous := c.active
	c.history.Append(conversation.UserTurn(text))
	request := &TurnRequest{
		ID:      uuid.NewString(),
		History: c.history.Window(c.config.historyWindow),
	}
	request.ctx, request.cancel = context.WithCancel(c.baseContext)
	c.active = request
	disabled := c.inputEnabled
	c.inputEnabled = false
	c.wg.Add(1)
	c.mu.Unlock()

	if previous != nil {
		previous.cancel()
	}

	c.emitEvent(events.NewTranscriptAppended(string(conversation.RoleUser), text))
	if disabled {
		c.emitEvent(events.NewInputAvailabilityChanged(false))
	}
	c.emitEvent(events.NewTurnStarted(request.ID))

	go c.processTurn(request)
	return nil
}

func (c *DialogTurnController) processTurn(request *TurnRequest) {
	defer c.wg.Done()
	defer c.finishTurn(request)

	ctx, span := tracer.Start(request.ctx, "process turn", trace.WithAttributes(
		attribute.String("turn.id", request.ID),
		attribute.Int("turn.history_length", len(request.History)),
	))
	defer span.End()

	thinking := c.startThinkingTimer(request)
	reply, err := c.endpoint.Respond(ctx, request.History)
	request.responded.Store(true)
	thinking.Stop()

	c.mu.Lock()
	if c.active != request || request.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.mu.Unlock()
		turnCounter.Add(ctx, 1, turnOutcome("cancelled"))
		span.SetAttributes(attribute.Bool("turn.cancelled", true))
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrTurnCancelled, err)
		} else {
			err = ErrTurnCancelled
		}
		logger.Debug("dropping superseded turn", "turn_id", request.ID, "error", err)
		c.emitEvent(events.NewTurnCancelled(request.ID))
		return
	}

	if err != nil {
		c.history.Append(conversation.AssistantTurn(c.config.fallbackText))
		c.mu.Unlock()

		err = fmt.Errorf("%w: %w", ErrNetworkFailure, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("turn request failed", "turn_id", request.ID, "error", err)
		turnCounter.Add(ctx, 1, turnOutcome("failed"))

		c.emitEvent(events.NewTranscriptAppended(string(conversation.RoleAssistant), c.config.fallbackText))
		c.emitEvent(events.NewTurnFailed(request.ID, err))
		return
	}

	c.history.Append(conversation.AssistantTurn(reply.Text))
	c.mu.Unlock()

	turnCounter.Add(ctx, 1, turnOutcome("completed"))
	c.emitEvent(events.NewTranscriptAppended(string(conversation.RoleAssistant), reply.Text))
	c.emitEvent(events.NewTurnCompleted(request.ID))

	// input returns before the reply audio is fetched
	c.finishTurn(request)
	if reply.AudioURL == "" {
		return
	}
	err = c.output.PlayIf(context.WithoutCancel(ctx), reply.AudioURL, func() bool { return c.replyWanted(request) })
	if err != nil {
		span.RecordError(err)
	}
}

// finishTurn re-enables input whatever the outcome. A completed turn calls
// it before its reply audio plays and again on return.
func (c *DialogTurnController) finishTurn(request *TurnRequest) {
	request.cancel()

	c.mu.Lock()
	if c.active == request {
		c.active = nil
	}
	enabled := !c.inputEnabled
	c.inputEnabled = true
	c.mu.Unlock()

	if enabled {
		c.emitEvent(events.NewInputAvailabilityChanged(true))
	}
}

// startThinkingTimer speaks the thinking filler once if the reply takes too
// long. The filler is not part of the history.
func (c *DialogTurnController) startThinkingTimer(request *TurnRequest) timer {
	waiting := func() bool {
		return !request.responded.Load() && request.ctx.Err() == nil && c.isActive(request)
	}
	return c.afterFunc(c.config.thinkingDelay, func() {
		if !waiting() {
			return
		}

		c.emitEvent(events.NewAssistantThinking(request.ID, c.config.thinkingText))
		// re-checked by the arbiter, the reply may have started meanwhile
		if err := c.output.SpeakIf(request.ctx, c.config.thinkingText, waiting); err != nil {
			logger.Warn("failed to speak thinking filler", "turn_id", request.ID, "error", err)
		}
	})
}

func (c *DialogTurnController) isActive(request *TurnRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == request
}

// replyWanted reports whether the audio of a completed request may still
// start: nothing newer is pending and the controller is open.
func (c *DialogTurnController) replyWanted(request *TurnRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && (c.active == nil || c.active == request)
}

// close refuses further turns and supersedes the pending one, if any.
func (c *DialogTurnController) close() {
	c.mu.Lock()
	c.closed = true
	active := c.active
	c.mu.Unlock()

	if active != nil {
		active.cancel()
	}
}

// wait blocks until every started turn has finished.
func (c *DialogTurnController) wait() { c.wg.Wait() }

func turnOutcome(outcome string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
