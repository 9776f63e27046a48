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
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/AleutianAI/AleutianCRM/services/assistant/history"
	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
)

// Gemini only knows two roles; tool results travel as user content.
const (
	roleUser  = "user"
	roleModel = "model"
)

// toContents converts the wire history into genai contents.
func toContents(turns []history.Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for i, t := range turns {
		c := &genai.Content{}
		switch t.Role {
		case history.RoleUser, history.RoleToolResult:
			c.Role = roleUser
		case history.RoleModel:
			c.Role = roleModel
		default:
			return nil, fmt.Errorf("turn %d: unknown role %q", i, t.Role)
		}

		for _, p := range t.Parts {
			switch {
			case p.ToolCall != nil:
				c.Parts = append(c.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   p.ToolCall.ID,
						Name: p.ToolCall.Name,
						Args: p.ToolCall.Args,
					},
					ThoughtSignature: p.ToolCall.Signature,
				})
			case p.ToolResult != nil:
				c.Parts = append(c.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       p.ToolResult.ID,
						Name:     p.ToolResult.Name,
						Response: p.ToolResult.Response,
					},
				})
			default:
				c.Parts = append(c.Parts, genai.NewPartFromText(p.Text))
			}
		}
		contents = append(contents, c)
	}
	return contents, nil
}

// toGenaiTools declares every registered tool as one function declaration.
func toGenaiTools(specs []tools.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  toSchema(spec),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toSchema(spec tools.ToolSpec) *genai.Schema {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(spec.Parameters)),
		Required:   spec.RequiredParams(),
	}
	for _, name := range spec.ParamNames() {
		p := spec.Parameters[name]
		prop := &genai.Schema{Description: p.Description}
		switch p.Type {
		case tools.ParamString:
			prop.Type = genai.TypeString
			if len(p.Enum) > 0 {
				prop.Format = "enum"
				prop.Enum = append([]string(nil), p.Enum...)
			}
		case tools.ParamNumber:
			prop.Type = genai.TypeNumber
		case tools.ParamInteger:
			prop.Type = genai.TypeInteger
		case tools.ParamBoolean:
			prop.Type = genai.TypeBoolean
		}
		schema.Properties[name] = prop
	}
	return schema
}

// systemInstruction joins the base prompt and the per-call context hint.
func systemInstruction(base, hint string) *genai.Content {
	base = strings.TrimSpace(base)
	hint = strings.TrimSpace(hint)
	if base == "" && hint == "" {
		return nil
	}
	text := base
	if hint != "" {
		if text != "" {
			text += "\n\n"
		}
		text += "Current context: " + hint
	}
	return &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(text)}}
}

// fromResponse turns the first candidate into a Reply.
//
// A response without candidates is malformed. A candidate without content
// is an empty reply. If the model mixes text with function calls, the calls
// win and the text is dropped: a tool-requesting reply never carries the
// final answer.
func fromResponse(resp *genai.GenerateContentResponse) (Reply, bool, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		reason := "no candidates"
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
		}
		return Reply{}, false, fmt.Errorf("%w: %s", ErrMalformedReply, reason)
	}

	var reply Reply
	if u := resp.UsageMetadata; u != nil {
		reply.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}

	content := resp.Candidates[0].Content
	if content == nil {
		return reply, false, nil
	}

	var text strings.Builder
	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			if part.FunctionCall.Name == "" {
				return Reply{}, false, fmt.Errorf("%w: function call without name", ErrMalformedReply)
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			reply.ToolCalls = append(reply.ToolCalls, history.ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Args:      args,
				Signature: part.ThoughtSignature,
			})
			continue
		}
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}

	droppedText := false
	if len(reply.ToolCalls) > 0 {
		droppedText = strings.TrimSpace(text.String()) != ""
	} else {
		reply.Text = strings.TrimSpace(text.String())
	}
	return reply, droppedText, nil
}
