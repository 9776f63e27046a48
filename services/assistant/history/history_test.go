// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoCalls() []ToolCall {
	return []ToolCall{
		{Name: "searchDocuments", Args: map[string]any{"query": "pricing"}},
		{Name: "draftEmail", Args: map[string]any{"recipient": "a@b.c", "subject": "hi", "body": "x"}},
	}
}

func TestHistory_ValidSequence(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(UserTurn("find pricing and email Bob")))
	require.NoError(t, h.Append(ModelToolCallTurn(twoCalls())))
	require.NoError(t, h.Append(ToolResultTurn([]ToolResult{
		{Name: "searchDocuments", Response: map[string]any{"success": true}},
		{Name: "draftEmail", Response: map[string]any{"success": true}},
	})))
	require.NoError(t, h.Append(ModelTextTurn("Here you go.")))
	require.NoError(t, h.Append(UserTurn("thanks")))

	assert.Equal(t, 5, h.Len())
	text, ok := h.LastUserText()
	assert.True(t, ok)
	assert.Equal(t, "thanks", text)
	assert.Nil(t, h.PendingToolCalls())
}

func TestHistory_PairingViolations(t *testing.T) {
	tests := []struct {
		name    string
		results []ToolResult
	}{
		{
			name:    "too few results",
			results: []ToolResult{{Name: "searchDocuments", Response: map[string]any{}}},
		},
		{
			name: "wrong order",
			results: []ToolResult{
				{Name: "draftEmail", Response: map[string]any{}},
				{Name: "searchDocuments", Response: map[string]any{}},
			},
		},
		{
			name: "too many results",
			results: []ToolResult{
				{Name: "searchDocuments", Response: map[string]any{}},
				{Name: "draftEmail", Response: map[string]any{}},
				{Name: "draftEmail", Response: map[string]any{}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			require.NoError(t, h.Append(UserTurn("go")))
			require.NoError(t, h.Append(ModelToolCallTurn(twoCalls())))

			err := h.Append(ToolResultTurn(tt.results))
			var pv *ProtocolViolationError
			require.True(t, errors.As(err, &pv), "got %v", err)
			assert.Equal(t, 2, pv.Index)
			assert.Equal(t, 2, h.Len(), "rejected turn must not be recorded")
			assert.Len(t, h.PendingToolCalls(), 2)
		})
	}
}

func TestHistory_TurnOrderViolations(t *testing.T) {
	t.Run("user while results pending", func(t *testing.T) {
		h := New()
		require.NoError(t, h.Append(UserTurn("go")))
		require.NoError(t, h.Append(ModelToolCallTurn(twoCalls())))
		assert.Error(t, h.Append(UserTurn("again")))
	})

	t.Run("model while results pending", func(t *testing.T) {
		h := New()
		require.NoError(t, h.Append(UserTurn("go")))
		require.NoError(t, h.Append(ModelToolCallTurn(twoCalls())))
		assert.Error(t, h.Append(ModelTextTurn("done")))
	})

	t.Run("tool result without calls", func(t *testing.T) {
		h := New()
		require.NoError(t, h.Append(UserTurn("go")))
		assert.Error(t, h.Append(ToolResultTurn([]ToolResult{{Name: "x", Response: map[string]any{}}})))
	})

	t.Run("model first", func(t *testing.T) {
		h := New()
		assert.Error(t, h.Append(ModelTextTurn("hello")))
	})

	t.Run("mixed model turn", func(t *testing.T) {
		h := New()
		require.NoError(t, h.Append(UserTurn("go")))
		turn := ModelToolCallTurn(twoCalls()[:1])
		turn.Parts = append(turn.Parts, Part{Text: "and also"})
		assert.Error(t, h.Append(turn))
	})

	t.Run("empty part", func(t *testing.T) {
		h := New()
		assert.Error(t, h.Append(UserTurn("")))
	})

	t.Run("consecutive user turns are allowed", func(t *testing.T) {
		h := New()
		require.NoError(t, h.Append(UserTurn("first")))
		assert.NoError(t, h.Append(UserTurn("second")))
	})
}

func TestHistory_SnapshotIsDetached(t *testing.T) {
	h := New()
	calls := twoCalls()
	require.NoError(t, h.Append(UserTurn("go")))
	require.NoError(t, h.Append(ModelToolCallTurn(calls)))

	// Mutating the caller's value after Append must not reach the log.
	calls[0].Args["query"] = "changed"

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "pricing", snap[1].Parts[0].ToolCall.Args["query"])

	snap[1].Parts[0].ToolCall.Args["query"] = "mutated"
	snap[0].Parts[0].Text = "mutated"

	again := h.Snapshot()
	assert.Equal(t, "pricing", again[1].Parts[0].ToolCall.Args["query"])
	assert.Equal(t, "go", again[0].Text())
	assert.False(t, again[0].At.IsZero())
}

func TestHistory_SignatureIsCopied(t *testing.T) {
	h := New()
	sig := []byte("opaque")
	require.NoError(t, h.Append(UserTurn("go")))
	require.NoError(t, h.Append(ModelToolCallTurn([]ToolCall{
		{Name: "searchDocuments", Args: map[string]any{"query": "pricing"}, Signature: sig},
	})))
	sig[0] = 'X'

	snap := h.Snapshot()
	assert.Equal(t, []byte("opaque"), snap[1].Parts[0].ToolCall.Signature)
	snap[1].Parts[0].ToolCall.Signature[0] = 'Y'
	assert.Equal(t, []byte("opaque"), h.Snapshot()[1].Parts[0].ToolCall.Signature)
}

func TestHistory_LastUserTextEmpty(t *testing.T) {
	_, ok := New().LastUserText()
	assert.False(t, ok)
}

func TestCloneMap_Nested(t *testing.T) {
	in := map[string]any{
		"list": []any{map[string]any{"k": "v"}},
		"tags": []string{"a"},
	}
	out := CloneMap(in)
	out["list"].([]any)[0].(map[string]any)["k"] = "changed"
	out["tags"].([]string)[0] = "b"

	assert.Equal(t, "v", in["list"].([]any)[0].(map[string]any)["k"])
	assert.Equal(t, "a", in["tags"].([]string)[0])
}
