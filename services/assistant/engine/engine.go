// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives one assistant conversation through its user turns.
//
// Each turn is a two-round exchange: the user text goes to the model; if the
// model asks for tools they are dispatched, their results are appended and
// the model is asked again for the final text. Turns of one engine run one
// at a time, in submission order, on a single worker goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCRM/services/assistant/dispatch"
	"github.com/AleutianAI/AleutianCRM/services/assistant/gateway"
	"github.com/AleutianAI/AleutianCRM/services/assistant/history"
	"github.com/AleutianAI/AleutianCRM/services/telemetry"
)

var (
	// ErrSessionAborted is returned once a protocol violation has stopped the engine.
	ErrSessionAborted = errors.New("session aborted")

	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine closed")

	// ErrQueueFull is returned by Submit when too many turns are waiting.
	ErrQueueFull = errors.New("too many pending messages")

	// ErrEmptyMessage is returned by Submit for blank text.
	ErrEmptyMessage = errors.New("message is empty")
)

// DefaultFallbackMessage is shown when the model cannot be reached.
const DefaultFallbackMessage = "Something went wrong, please try again."

// ToolDispatcher runs one validated tool call. *dispatch.Dispatcher implements it.
//
// The engine bounds every call by Config.ToolTimeout whether or not the
// implementation honours ctx.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call dispatch.Call) dispatch.Result
}

// Config tunes an Engine. Zero values take the defaults noted per field.
type Config struct {
	// SessionID labels logs and spans. Defaults to a random UUID.
	SessionID string

	// QueueSize is how many turns may wait behind the running one. Default 8.
	QueueSize int

	// MaxParallelTools bounds concurrent dispatches within a turn. Default 4.
	MaxParallelTools int

	// GatewayTimeout bounds each model call. Default 90s.
	GatewayTimeout time.Duration

	// ToolTimeout bounds each tool dispatch. Default 30s.
	ToolTimeout time.Duration

	// FallbackMessage replaces DefaultFallbackMessage.
	FallbackMessage string

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 8
	}
	if c.MaxParallelTools <= 0 {
		c.MaxParallelTools = 4
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 90 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.FallbackMessage == "" {
		c.FallbackMessage = DefaultFallbackMessage
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// SubmitOption configures one submission.
type SubmitOption func(*submission)

// WithContextHint attaches free text describing what the user is looking at.
// It is added to the system instruction for both rounds of this turn only.
func WithContextHint(hint string) SubmitOption {
	return func(s *submission) {
		s.hint = strings.TrimSpace(hint)
	}
}

type submission struct {
	text   string
	hint   string
	ticket *Ticket
}

// Engine owns one conversation history and runs its turns.
//
// Description:
//
//	Submit queues user text and returns at once. A single worker goroutine
//	takes submissions in FIFO order and runs each to completion before the
//	next begins, so tool-call and tool-result turns of different user
//	messages never interleave. Progress is reported to the Sink as events.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Engine struct {
	cfg    Config
	gw     gateway.Gateway
	disp   ToolDispatcher
	hist   *history.History
	sink   Sink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan *submission
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	pending int
	closed  bool
	abort   error

	emitMu sync.Mutex
}

// New creates an Engine with an empty history and starts its worker.
//
// Inputs:
//   - gw: Model boundary. Must not be nil.
//   - disp: Tool dispatcher. Must not be nil.
//   - sink: Event receiver, usually a display projector. May be nil.
//   - cfg: Tuning; zero values take defaults.
func New(gw gateway.Gateway, disp ToolDispatcher, sink Sink, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = discardSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:    cfg,
		gw:     gw,
		disp:   disp,
		hist:   history.New(),
		sink:   sink,
		logger: cfg.Logger.With(slog.String("session_id", cfg.SessionID)),
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan *submission, cfg.QueueSize),
		state:  StateIdle,
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// SessionID returns the session identifier used in logs and spans.
func (e *Engine) SessionID() string {
	return e.cfg.SessionID
}

// Submit queues a user message.
//
// Outputs:
//   - *Ticket: Completes when the turn reaches Idle (or fails).
//   - error: ErrEmptyMessage, ErrQueueFull, ErrEngineClosed or ErrSessionAborted.
func (e *Engine) Submit(text string, opts ...SubmitOption) (*Ticket, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	sub := &submission{text: text, ticket: newTicket(uuid.NewString())}
	for _, opt := range opts {
		opt(sub)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.abort != nil:
		return nil, fmt.Errorf("%w: %v", ErrSessionAborted, e.abort)
	case e.closed:
		return nil, ErrEngineClosed
	}

	select {
	case e.queue <- sub:
		e.pending++
		queuedTurns.Inc()
		return sub.ticket, nil
	default:
		return nil, ErrQueueFull
	}
}

// InFlight reports whether any submitted turn has not yet finished.
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending > 0
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the protocol violation that aborted the engine, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abort
}

// History returns a copy of the wire history.
func (e *Engine) History() []history.Turn {
	return e.hist.Snapshot()
}

// Close stops the engine. The running turn is cancelled and queued turns
// fail with ErrEngineClosed. Close blocks until the worker has exited.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.wg.Wait()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	for sub := range e.queue {
		var outcome TurnOutcome
		switch {
		case e.Err() != nil:
			outcome = TurnOutcome{Err: fmt.Errorf("%w: %v", ErrSessionAborted, e.Err())}
		case e.ctx.Err() != nil:
			outcome = TurnOutcome{Err: ErrEngineClosed}
			turnsTotal.WithLabelValues(outcomeClosed).Inc()
		default:
			outcome = e.runTurn(sub)
		}

		e.mu.Lock()
		e.pending--
		e.mu.Unlock()
		queuedTurns.Dec()

		sub.ticket.finish(outcome)
	}
}

// runTurn executes one user turn end to end and always leaves the engine
// in StateIdle or StateAborted.
func (e *Engine) runTurn(sub *submission) (outcome TurnOutcome) {
	turnID := sub.ticket.ID
	start := time.Now()

	ctx, span := otel.Tracer(engineTracerName).Start(e.ctx, "engine.Engine.runTurn",
		trace.WithAttributes(
			attribute.String("session_id", e.cfg.SessionID),
			attribute.String("turn_id", turnID),
			attribute.Bool("has_context_hint", sub.hint != ""),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, e.logger).With(slog.String("turn_id", turnID))

	label := outcomeText
	defer func() {
		outcome.Duration = time.Since(start)
		turnsTotal.WithLabelValues(label).Inc()
		turnDuration.WithLabelValues(label).Observe(outcome.Duration.Seconds())
		span.SetAttributes(attribute.String("outcome", label), attribute.Int("rounds", outcome.Rounds))
		if outcome.Err != nil {
			span.SetStatus(codes.Error, label)
		}
		logger.Info("turn finished",
			slog.String("outcome", label),
			slog.Int("rounds", outcome.Rounds),
			slog.Int("tool_calls", len(outcome.Tools)),
			slog.Duration("duration", outcome.Duration),
		)
	}()

	fatal := func(err error) TurnOutcome {
		label = outcomeAborted
		e.abortWith(turnID, err, logger)
		return TurnOutcome{Rounds: outcome.Rounds, Tools: outcome.Tools, Err: fmt.Errorf("%w: %v", ErrSessionAborted, err)}
	}

	// Idle -> AwaitingFirstReply
	if err := e.transition(StateAwaitingFirstReply); err != nil {
		return fatal(err)
	}
	if err := e.hist.Append(history.UserTurn(sub.text)); err != nil {
		return fatal(err)
	}
	e.emit(Event{Kind: EventUserSubmitted, TurnID: turnID, Text: sub.text})
	e.emit(Event{Kind: EventLoadingStarted, TurnID: turnID})

	reply, err := e.send(ctx, sub.hint, true, 1)
	outcome.Rounds = 1
	if err != nil {
		label = outcomeGatewayFailure
		return e.gatewayFailure(turnID, outcome, err)
	}

	if len(reply.ToolCalls) == 0 {
		return e.finishWithText(turnID, outcome, reply, &label, fatal)
	}

	if err := checkToolCalls(reply.ToolCalls); err != nil {
		label = outcomeGatewayFailure
		logger.Warn("malformed model reply", slog.String("error", err.Error()))
		return e.gatewayFailure(turnID, outcome, err)
	}

	// AwaitingFirstReply -> ExecutingTools
	label = outcomeTools
	toolCallsPerTurn.Observe(float64(len(reply.ToolCalls)))
	if err := e.hist.Append(history.ModelToolCallTurn(reply.ToolCalls)); err != nil {
		return fatal(err)
	}
	if err := e.transition(StateExecutingTools); err != nil {
		return fatal(err)
	}

	outcome.Tools = e.executeTools(ctx, turnID, reply.ToolCalls)

	results := make([]history.ToolResult, len(reply.ToolCalls))
	for i, call := range reply.ToolCalls {
		results[i] = history.ToolResult{
			ID:       call.ID,
			Name:     call.Name,
			Response: outcome.Tools[i].Result.AsMap(),
		}
	}
	if err := e.hist.Append(history.ToolResultTurn(results)); err != nil {
		return fatal(err)
	}

	// ExecutingTools -> AwaitingSecondReply
	if err := e.transition(StateAwaitingSecondReply); err != nil {
		return fatal(err)
	}
	reply, err = e.send(ctx, sub.hint, false, 2)
	outcome.Rounds = 2
	if err != nil {
		label = outcomeGatewayFailure
		return e.gatewayFailure(turnID, outcome, err)
	}
	if len(reply.ToolCalls) > 0 {
		// Exactly two rounds per turn: further tool requests are not honoured.
		logger.Warn("ignoring tool calls in second round", slog.Int("tool_calls", len(reply.ToolCalls)))
		reply.ToolCalls = nil
	}
	return e.finishWithText(turnID, outcome, reply, &label, fatal)
}

// finishWithText records a text reply (or nothing, for an empty one) and
// returns to Idle.
func (e *Engine) finishWithText(turnID string, outcome TurnOutcome, reply gateway.Reply, label *string,
	fatal func(error) TurnOutcome) TurnOutcome {

	if reply.Text == "" {
		if outcome.Rounds == 1 {
			*label = outcomeEmpty
		}
		outcome.Empty = true
		e.emit(Event{Kind: EventLoadingEnded, TurnID: turnID})
		if err := e.transition(StateIdle); err != nil {
			return fatal(err)
		}
		return outcome
	}

	if err := e.transition(StateResponding); err != nil {
		return fatal(err)
	}
	if err := e.hist.Append(history.ModelTextTurn(reply.Text)); err != nil {
		return fatal(err)
	}
	outcome.Text = reply.Text
	e.emit(Event{Kind: EventTextReady, TurnID: turnID, Text: reply.Text})
	e.emit(Event{Kind: EventLoadingEnded, TurnID: turnID})
	if err := e.transition(StateIdle); err != nil {
		return fatal(err)
	}
	return outcome
}

// gatewayFailure shows the fallback message and returns to Idle without
// touching the history.
func (e *Engine) gatewayFailure(turnID string, outcome TurnOutcome, err error) TurnOutcome {
	e.emit(Event{Kind: EventTurnFailed, TurnID: turnID, Text: e.cfg.FallbackMessage})
	e.emit(Event{Kind: EventLoadingEnded, TurnID: turnID})
	e.forceIdle()
	outcome.Err = err
	return outcome
}

// checkToolCalls rejects a reply the history could not record. It fails the
// turn like any gateway error; the session stays usable.
func checkToolCalls(calls []history.ToolCall) error {
	for i, call := range calls {
		if strings.TrimSpace(call.Name) == "" {
			return &gateway.Error{
				Kind: gateway.KindMalformed,
				Err:  fmt.Errorf("%w: tool call %d has no name", gateway.ErrMalformedReply, i),
			}
		}
	}
	return nil
}

// executeTools dispatches all calls concurrently and returns their outcomes
// in call order. It waits for every call.
func (e *Engine) executeTools(ctx context.Context, turnID string, calls []history.ToolCall) []ToolOutcome {
	out := make([]ToolOutcome, len(calls))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			res := e.dispatch(ctx, call)
			out[i] = ToolOutcome{Name: call.Name, Args: call.Args, Result: res}
			if res.Success && res.Data != nil {
				e.emit(Event{Kind: EventToolRendered, TurnID: turnID, Tool: call.Name, Data: res.Data})
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// dispatch runs one call under ToolTimeout, on its own goroutine so a
// dispatcher that ignores ctx still cannot stall the turn.
func (e *Engine) dispatch(ctx context.Context, call history.ToolCall) dispatch.Result {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	done := make(chan dispatch.Result, 1)
	go func() {
		done <- e.disp.Dispatch(ctx, dispatch.Call{Name: call.Name, Args: call.Args})
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return dispatch.Failf("Tool %s did not finish in time: %v", call.Name, ctx.Err())
	}
}

type sendResult struct {
	reply gateway.Reply
	err   error
}

// send calls the gateway under GatewayTimeout. The call runs on its own
// goroutine so a gateway that ignores ctx still cannot stall the turn.
func (e *Engine) send(ctx context.Context, hint string, allowTools bool, round int) (gateway.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()

	req := gateway.Request{
		History:     e.hist.Snapshot(),
		ContextHint: hint,
		AllowTools:  allowTools,
		Round:       round,
	}

	done := make(chan sendResult, 1)
	go func() {
		reply, err := e.gw.Send(ctx, req)
		done <- sendResult{reply: reply, err: err}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return gateway.Reply{}, &gateway.Error{Kind: gateway.KindTimeout, Err: ctx.Err()}
	}
}

func (e *Engine) transition(to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !canTransition(e.state, to) {
		return fmt.Errorf("illegal state transition %s -> %s", e.state, to)
	}
	e.state = to
	return nil
}

func (e *Engine) forceIdle() {
	e.mu.Lock()
	if e.state != StateAborted {
		e.state = StateIdle
	}
	e.mu.Unlock()
}

func (e *Engine) abortWith(turnID string, err error, logger *slog.Logger) {
	e.mu.Lock()
	already := e.abort != nil
	if !already {
		e.abort = err
		e.state = StateAborted
	}
	e.mu.Unlock()
	if already {
		return
	}

	sessionsAbortedTotal.Inc()
	logger.Error("conversation aborted", slog.String("error", err.Error()))
	e.emit(Event{Kind: EventLoadingEnded, TurnID: turnID})
	e.emit(Event{Kind: EventSessionAborted, TurnID: turnID, Text: e.cfg.FallbackMessage})
}

func (e *Engine) emit(ev Event) {
	ev.At = time.Now()
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.sink.Handle(ev)
}
