// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch validates model-issued tool calls and runs the bound
// handlers. Dispatch never returns an error: every failure becomes a Result
// that is fed back to the model.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCRM/services/assistant/history"
	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
	"github.com/AleutianAI/AleutianCRM/services/telemetry"
)

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 20 * time.Second

// ErrAlreadyBound is returned by Bind for a tool that already has a handler.
var ErrAlreadyBound = errors.New("handler already bound")

// Handler performs the side effect behind one tool.
//
// A returned error is converted into a handler failure result. Handlers
// must honour ctx; the dispatcher gives up on them when it expires.
type Handler interface {
	Handle(ctx context.Context, args Args) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args Args) (Result, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, args Args) (Result, error) {
	return f(ctx, args)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHandlerTimeout overrides DefaultHandlerTimeout. Non-positive values are ignored.
func WithHandlerTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

// Dispatcher maps tool names to handlers.
//
// Description:
//
//	Created over a Registry, which it freezes. Handlers are bound once at
//	startup with Bind. Dispatch looks the call up, validates its arguments
//	against the ToolSpec, runs the handler under a timeout with panic
//	recovery and returns a Result.
//
// Thread Safety: Dispatcher is safe for concurrent use. Concurrent
// Dispatch calls run handlers concurrently.
type Dispatcher struct {
	registry *tools.Registry
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates a Dispatcher over registry and freezes it.
func NewDispatcher(registry *tools.Registry, opts ...DispatcherOption) *Dispatcher {
	registry.Freeze()
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultHandlerTimeout,
		logger:   slog.Default(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Bind attaches a handler to a registered tool.
//
// Outputs:
//   - error: wraps tools.ErrToolNotFound for an unregistered name,
//     ErrAlreadyBound if the tool already has a handler.
func (d *Dispatcher) Bind(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("binding %q: nil handler", name)
	}
	if _, err := d.registry.Get(name); err != nil {
		return fmt.Errorf("binding %q: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[name]; exists {
		return fmt.Errorf("binding %q: %w", name, ErrAlreadyBound)
	}
	d.handlers[name] = h
	return nil
}

// BindFunc is Bind for a plain function.
func (d *Dispatcher) BindFunc(name string, fn func(ctx context.Context, args Args) (Result, error)) error {
	return d.Bind(name, HandlerFunc(fn))
}

// Unbound returns the registered tools that have no handler, sorted.
func (d *Dispatcher) Unbound() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var names []string
	for _, spec := range d.registry.List() {
		if _, ok := d.handlers[spec.Name]; !ok {
			names = append(names, spec.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Registry returns the frozen registry the dispatcher validates against.
func (d *Dispatcher) Registry() *tools.Registry {
	return d.registry
}

// Dispatch validates and executes one tool call.
//
// Description:
//
//	Unknown names and invalid arguments never reach a handler. A handler
//	that returns an error, panics, or outlives the timeout yields a
//	KindHandlerFailure result. A successful handler result is returned
//	unchanged.
//
// Inputs:
//   - ctx: Parent context. The handler runs under a derived timeout.
//   - call: Tool name and raw arguments as issued by the model.
//
// Outputs:
//   - Result: Always populated; never an error.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) Result {
	ctx, span := otel.Tracer(dispatchTracerName).Start(ctx, "dispatch.Dispatcher.Dispatch",
		trace.WithAttributes(
			attribute.String("tool", call.Name),
			attribute.Int("arg_count", len(call.Args)),
		),
	)
	defer span.End()

	logger := telemetry.LoggerWithTrace(ctx, d.logger)
	start := time.Now()

	res := d.dispatch(ctx, call, logger)

	duration := time.Since(start)
	recordDispatch(call.Name, res, duration)
	span.SetAttributes(
		attribute.Bool("success", res.Success),
		attribute.String("error_kind", string(res.Kind)),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}

	logger.Info("tool dispatched",
		slog.String("tool", call.Name),
		slog.Bool("success", res.Success),
		slog.String("error_kind", string(res.Kind)),
		slog.Duration("duration", duration),
	)
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call, logger *slog.Logger) Result {
	spec, err := d.registry.Get(call.Name)
	if err != nil {
		return Result{
			Success: false,
			Message: fmt.Sprintf("unknown tool %q", call.Name),
			Kind:    KindUnknownTool,
		}
	}

	args := history.CloneMap(call.Args)
	if args == nil {
		args = map[string]any{}
	}

	if violations := validateArgs(spec, args); len(violations) > 0 {
		return Result{
			Success:    false,
			Message:    fmt.Sprintf("invalid arguments for %s: %s", spec.Name, describeViolations(violations)),
			Kind:       KindValidation,
			Violations: violations,
		}
	}

	d.mu.RLock()
	h, ok := d.handlers[spec.Name]
	d.mu.RUnlock()
	if !ok {
		logger.Error("no handler bound for registered tool", slog.String("tool", spec.Name))
		return Result{
			Success: false,
			Message: fmt.Sprintf("tool %s is not available", spec.Name),
			Kind:    KindHandlerFailure,
		}
	}

	res := d.invoke(ctx, spec.Name, h, Args(args), logger)
	if !res.Success && res.Kind == "" {
		res.Kind = KindHandlerFailure
	}
	return res
}

type invocation struct {
	res Result
	err error
}

// invoke runs h in its own goroutine so that a handler ignoring ctx cannot
// hold the turn past the timeout.
func (d *Dispatcher) invoke(ctx context.Context, name string, h Handler, args Args, logger *slog.Logger) Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				handlerPanicsTotal.WithLabelValues(name).Inc()
				logger.Error("tool handler panicked",
					slog.String("tool", name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				done <- invocation{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		res, err := h.Handle(ctx, args)
		done <- invocation{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return Result{
				Success: false,
				Message: fmt.Sprintf("%s failed: %v", name, out.err),
				Kind:    KindHandlerFailure,
			}
		}
		return out.res
	case <-ctx.Done():
		reason := "timed out"
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "was cancelled"
		}
		logger.Warn("tool handler abandoned",
			slog.String("tool", name),
			slog.String("reason", reason),
			slog.Duration("timeout", d.timeout),
		)
		return Result{
			Success: false,
			Message: fmt.Sprintf("%s %s", name, reason),
			Kind:    KindHandlerFailure,
		}
	}
}
