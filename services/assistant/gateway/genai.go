// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
	"github.com/AleutianAI/AleutianCRM/services/telemetry"
)

// generator is the slice of the genai client the gateway uses.
// *genai.Models satisfies it.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIConfig configures a GenAIGateway.
type GenAIConfig struct {
	// APIKey for the Gemini API. Only used by NewGenAIGateway.
	APIKey string

	// Model is the model name, e.g. "gemini-2.5-flash".
	Model string

	// SystemPrompt is sent as the system instruction on every call.
	SystemPrompt string

	// Temperature is passed through when non-nil.
	Temperature *float32

	// MaxOutputTokens caps the reply length when positive.
	MaxOutputTokens int32

	// Timeout bounds one Send, including time spent waiting on the limiter.
	Timeout time.Duration

	// RequestsPerMinute limits calls across all sessions. Zero disables limiting.
	RequestsPerMinute int

	// Burst is the limiter bucket size. Defaults to 1.
	Burst int
}

// GenAIGateway implements Gateway over google.golang.org/genai.
//
// Description:
//
//	Converts the wire history to genai contents, declares every tool in the
//	registry, and parses the first candidate into a Reply. When
//	Request.AllowTools is false the function calling mode is set to NONE so
//	the model must answer in text.
//
// Thread Safety: GenAIGateway is safe for concurrent use.
type GenAIGateway struct {
	gen     generator
	cfg     GenAIConfig
	tools   []*genai.Tool
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGenAIGateway creates a Gemini API client and wraps it.
//
// Inputs:
//   - ctx: Used only for client construction.
//   - cfg: Model settings. APIKey and Model are required.
//   - registry: Tools advertised to the model.
//   - logger: Destination for diagnostics. Nil uses slog.Default().
func NewGenAIGateway(ctx context.Context, cfg GenAIConfig, registry *tools.Registry, logger *slog.Logger) (*GenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gateway: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: creating genai client: %s", SafeLogString(err.Error()))
	}
	return newGenAIGateway(client.Models, cfg, registry, logger)
}

func newGenAIGateway(gen generator, cfg GenAIConfig, registry *tools.Registry, logger *slog.Logger) (*GenAIGateway, error) {
	if gen == nil {
		return nil, errors.New("gateway: nil generator")
	}
	if cfg.Model == "" {
		return nil, errors.New("gateway: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	g := &GenAIGateway{
		gen:    gen,
		cfg:    cfg,
		logger: logger,
	}
	if registry != nil {
		registry.Freeze()
		g.tools = toGenaiTools(registry.List())
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)
	}
	return g, nil
}

// Model returns the configured model name.
func (g *GenAIGateway) Model() string {
	return g.cfg.Model
}

// Send implements Gateway.
func (g *GenAIGateway) Send(ctx context.Context, req Request) (Reply, error) {
	ctx, span := otel.Tracer(gatewayTracerName).Start(ctx, "gateway.GenAIGateway.Send",
		trace.WithAttributes(
			attribute.String("model", g.cfg.Model),
			attribute.Int("round", req.Round),
			attribute.Int("turn_count", len(req.History)),
			attribute.Bool("allow_tools", req.AllowTools),
			attribute.Bool("has_context_hint", req.ContextHint != ""),
		),
	)
	defer span.End()

	logger := telemetry.LoggerWithTrace(ctx, g.logger)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	activeRequests.Inc()
	defer activeRequests.Dec()

	start := time.Now()
	reply, err := g.send(ctx, req, logger)
	duration := time.Since(start)

	if err != nil {
		err = &Error{Kind: classifyError(err), Model: g.cfg.Model, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		logger.Warn("model call failed",
			slog.Int("round", req.Round),
			slog.String("kind", string(KindOf(err))),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		recordCall(req.Round, duration, Usage{}, err)
		return Reply{}, err
	}

	span.SetAttributes(
		attribute.Int("tool_call_count", len(reply.ToolCalls)),
		attribute.Int("input_tokens", reply.Usage.InputTokens),
		attribute.Int("output_tokens", reply.Usage.OutputTokens),
	)
	logger.Info("model call completed",
		slog.Int("round", req.Round),
		slog.Int("tool_calls", len(reply.ToolCalls)),
		slog.Int("text_len", len(reply.Text)),
		slog.Duration("duration", duration),
	)
	recordCall(req.Round, duration, reply.Usage, nil)
	return reply, nil
}

func (g *GenAIGateway) send(ctx context.Context, req Request, logger *slog.Logger) (Reply, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Reply{}, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	contents, err := toContents(req.History)
	if err != nil {
		return Reply{}, err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction(g.cfg.SystemPrompt, req.ContextHint),
		Temperature:       g.cfg.Temperature,
		MaxOutputTokens:   g.cfg.MaxOutputTokens,
		Tools:             g.tools,
	}
	if len(g.tools) > 0 && !req.AllowTools {
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeNone,
			},
		}
	}

	resp, err := g.gen.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return Reply{}, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return Reply{}, err
	}

	reply, droppedText, err := fromResponse(resp)
	if err != nil {
		return Reply{}, err
	}
	if droppedText {
		logger.Debug("dropped text accompanying tool calls", slog.Int("round", req.Round))
	}
	return reply, nil
}
