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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/AleutianAI/AleutianCRM/services/assistant/history"
	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
)

// fakeGenerator records requests and replays canned responses.
type fakeGenerator struct {
	mu       sync.Mutex
	contents [][]*genai.Content
	configs  []*genai.GenerateContentConfig
	models   []string

	generateFn func(ctx context.Context) (*genai.GenerateContentResponse, error)
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content,
	config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.contents = append(f.contents, contents)
	f.configs = append(f.configs, config)
	f.models = append(f.models, model)
	f.mu.Unlock()
	return f.generateFn(ctx)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: roleModel, Parts: []*genai.Part{genai.NewPartFromText(text)}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 5},
	}
}

func callResponse(calls ...*genai.FunctionCall) *genai.GenerateContentResponse {
	parts := make([]*genai.Part, len(calls))
	for i, c := range calls {
		parts[i] = &genai.Part{FunctionCall: c}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: roleModel, Parts: parts}}},
	}
}

func newTestGateway(t *testing.T, gen *fakeGenerator, cfg GenAIConfig) *GenAIGateway {
	t.Helper()
	reg, err := tools.NewCRMRegistry()
	require.NoError(t, err)
	if cfg.Model == "" {
		cfg.Model = "gemini-test"
	}
	g, err := newGenAIGateway(gen, cfg, reg, nil)
	require.NoError(t, err)
	return g
}

func sampleHistory() []history.Turn {
	return []history.Turn{
		history.UserTurn("Create a client lead for Maria Lopez, maria@x.com"),
		history.ModelToolCallTurn([]history.ToolCall{{
			Name: tools.CreateClientLead,
			Args: map[string]any{"name": "Maria Lopez", "email": "maria@x.com"},
		}}),
		history.ToolResultTurn([]history.ToolResult{{
			Name:     tools.CreateClientLead,
			Response: map[string]any{"success": true, "message": "Created lead maria-lopez-001"},
		}}),
	}
}

func TestSend_TextReply(t *testing.T) {
	gen := &fakeGenerator{generateFn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return textResponse("  Hello there. "), nil
	}}
	g := newTestGateway(t, gen, GenAIConfig{SystemPrompt: "You are a CRM assistant."})

	reply, err := g.Send(context.Background(), Request{
		History:     []history.Turn{history.UserTurn("hi")},
		ContextHint: "viewing lead maria-lopez-001",
		AllowTools:  true,
		Round:       1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", reply.Text)
	assert.Empty(t, reply.ToolCalls)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 5}, reply.Usage)

	require.Len(t, gen.configs, 1)
	cfg := gen.configs[0]
	assert.Equal(t, "gemini-test", gen.models[0])
	assert.Nil(t, cfg.ToolConfig, "tools are allowed in round one")
	require.Len(t, cfg.Tools, 1)
	assert.Len(t, cfg.Tools[0].FunctionDeclarations, len(tools.CRMCatalog()))
	require.NotNil(t, cfg.SystemInstruction)
	sys := cfg.SystemInstruction.Parts[0].Text
	assert.Contains(t, sys, "You are a CRM assistant.")
	assert.Contains(t, sys, "viewing lead maria-lopez-001")
}

func TestSend_ToolCallReply(t *testing.T) {
	gen := &fakeGenerator{generateFn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		resp := callResponse(
			&genai.FunctionCall{Name: tools.SearchDocuments, Args: map[string]any{"query": "pricing"}},
			&genai.FunctionCall{ID: "c2", Name: tools.DraftEmail},
		)
		// Text next to calls is dropped.
		resp.Candidates[0].Content.Parts = append(resp.Candidates[0].Content.Parts, genai.NewPartFromText("Let me check."))
		return resp, nil
	}}
	g := newTestGateway(t, gen, GenAIConfig{})

	reply, err := g.Send(context.Background(), Request{History: []history.Turn{history.UserTurn("go")}, AllowTools: true, Round: 1})
	require.NoError(t, err)
	assert.Empty(t, reply.Text)
	require.Len(t, reply.ToolCalls, 2)
	assert.Equal(t, tools.SearchDocuments, reply.ToolCalls[0].Name)
	assert.Equal(t, "pricing", reply.ToolCalls[0].Args["query"])
	assert.Equal(t, "c2", reply.ToolCalls[1].ID)
	assert.NotNil(t, reply.ToolCalls[1].Args)
}

func TestSend_ThoughtSignatureRoundTrip(t *testing.T) {
	sig := []byte{0x01, 0x02, 0x03}
	calls := 0
	gen := &fakeGenerator{generateFn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		calls++
		if calls > 1 {
			return textResponse("Found it."), nil
		}
		resp := callResponse(&genai.FunctionCall{Name: tools.SearchDocuments, Args: map[string]any{"query": "pricing"}})
		resp.Candidates[0].Content.Parts[0].ThoughtSignature = sig
		return resp, nil
	}}
	g := newTestGateway(t, gen, GenAIConfig{})

	reply, err := g.Send(context.Background(), Request{History: []history.Turn{history.UserTurn("go")}, AllowTools: true, Round: 1})
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, sig, reply.ToolCalls[0].Signature)

	next := []history.Turn{
		history.UserTurn("go"),
		history.ModelToolCallTurn(reply.ToolCalls),
		history.ToolResultTurn([]history.ToolResult{{
			Name:     tools.SearchDocuments,
			Response: map[string]any{"success": true},
		}}),
	}
	_, err = g.Send(context.Background(), Request{History: next, Round: 2})
	require.NoError(t, err)

	contents := gen.contents[1]
	require.Len(t, contents, 3)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, sig, contents[1].Parts[0].ThoughtSignature)
	assert.Nil(t, contents[2].Parts[0].ThoughtSignature)
}

func TestSend_SecondRoundDisablesFunctionCalling(t *testing.T) {
	gen := &fakeGenerator{generateFn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return textResponse("Done! I've added Maria Lopez as a new lead."), nil
	}}
	g := newTestGateway(t, gen, GenAIConfig{})

	_, err := g.Send(context.Background(), Request{History: sampleHistory(), AllowTools: false, Round: 2})
	require.NoError(t, err)

	cfg := gen.configs[0]
	require.NotNil(t, cfg.ToolConfig)
	assert.Equal(t, genai.FunctionCallingConfigModeNone, cfg.ToolConfig.FunctionCallingConfig.Mode)
}

func TestSend_HistoryConversion(t *testing.T) {
	gen := &fakeGenerator{generateFn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return textResponse("ok"), nil
	}}
	g := newTestGateway(t, gen, GenAIConfig{})

	_, err := g.Send(context.Background(), Request{History: sampleHistory(), Round: 2})
	require.NoError(t, err)

	contents := gen.contents[0]
	require.Len(t, contents, 3)
	assert.Equal(t, roleUser, contents[0].Role)
	assert.Equal(t, roleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, tools.CreateClientLead, contents[1].Parts[0].FunctionCall.Name)
	assert.Equal(t, roleUser, contents[2].Role, "tool results travel as user content")
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, true, contents[2].Parts[0].FunctionResponse.Response["success"])
}

func TestSend_Failures(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		fn       func(ctx context.Context) (*genai.GenerateContentResponse, error)
		wantKind ErrorKind
	}{
		{
			name: "no candidates",
			fn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
				return &genai.GenerateContentResponse{}, nil
			},
			wantKind: KindMalformed,
		},
		{
			name: "nameless function call",
			fn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
				return callResponse(&genai.FunctionCall{}), nil
			},
			wantKind: KindMalformed,
		},
		{
			name: "rate limited",
			fn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
				return nil, errors.New("Error 429, Message: Resource has been exhausted, Status: RESOURCE_EXHAUSTED")
			},
			wantKind: KindRateLimit,
		},
		{
			name: "auth",
			fn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
				return nil, errors.New("Error 403, Message: API key not valid AIzaSyA1234567890123456789012345678901234")
			},
			wantKind: KindAuth,
		},
		{
			name:    "timeout",
			timeout: 20 * time.Millisecond,
			fn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
				<-ctx.Done()
				return nil, errors.New("request aborted")
			},
			wantKind: KindTimeout,
		},
		{
			name: "network",
			fn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
				return nil, errors.New("dial tcp: connection refused")
			},
			wantKind: KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{generateFn: tt.fn}
			g := newTestGateway(t, gen, GenAIConfig{Timeout: tt.timeout})

			_, err := g.Send(context.Background(), Request{History: []history.Turn{history.UserTurn("hi")}, Round: 1})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.NotContains(t, err.Error(), "AIzaSy", "keys must be redacted")
		})
	}
}

func TestSend_EmptyCandidateIsEmptyReply(t *testing.T) {
	gen := &fakeGenerator{generateFn: func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}, nil
	}}
	g := newTestGateway(t, gen, GenAIConfig{})

	reply, err := g.Send(context.Background(), Request{History: []history.Turn{history.UserTurn("hi")}, Round: 1})
	require.NoError(t, err)
	assert.True(t, reply.Empty())
}

func TestToSchema(t *testing.T) {
	reg, err := tools.NewCRMRegistry()
	require.NoError(t, err)
	spec, err := reg.Get(tools.CreateSupportTicket)
	require.NoError(t, err)

	schema := toSchema(spec)
	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, []string{"description", "priority", "subject"}, schema.Required)
	assert.Equal(t, genai.TypeString, schema.Properties["priority"].Type)
	assert.Equal(t, []string{"low", "medium", "high", "urgent"}, schema.Properties["priority"].Enum)
}

func TestNewGenAIGateway_RequiresKey(t *testing.T) {
	_, err := NewGenAIGateway(context.Background(), GenAIConfig{Model: "m"}, nil, nil)
	assert.Error(t, err)
}

func TestSafeLogString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"nothing secret here", "nothing secret here"},
		{"key AIzaSyA1234567890123456789012345678901234 rejected", "key [REDACTED:google_api_key] rejected"},
		{"Authorization: Bearer abcdefghijklmnop", "Authorization: [REDACTED:bearer_token]"},
		{"GET /v1beta/models?key=abcdefghijkl", "GET /v1beta/models?key=[REDACTED]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeLogString(tt.in))
	}
}
