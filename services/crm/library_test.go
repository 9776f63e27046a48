// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	dir := t.TempDir()
	writeDoc(t, dir, "pricing.md", `# Pricing Sheet

The Starter plan costs $29 per seat per month and includes email support.

The Growth plan costs $79 per seat per month and adds phone support and custom pipelines.
`)
	writeDoc(t, dir, "policies/refunds.txt", `Refunds are issued within 30 days of purchase.

Annual plans are refunded pro rata after the first 30 days.
`)
	writeDoc(t, dir, "notes.json", `{"ignored": true}`)

	lib, err := NewLibrary(dir, nil)
	require.NoError(t, err)
	return lib, dir
}

func TestLibrary_Search(t *testing.T) {
	lib, _ := newTestLibrary(t)
	assert.Equal(t, 2, lib.Len())

	hits := lib.Search("growth plan phone support", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "pricing.md", hits[0].DocumentID)
	assert.Equal(t, "Pricing Sheet", hits[0].Title)
	assert.Contains(t, hits[0].Snippet, "Growth plan")
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	refunds := lib.Search("refund annual", 5)
	require.NotEmpty(t, refunds)
	assert.Equal(t, "policies/refunds.txt", refunds[0].DocumentID)
	assert.Equal(t, "refunds", refunds[0].Title)
}

func TestLibrary_OneHitPerDocument(t *testing.T) {
	lib, _ := newTestLibrary(t)
	hits := lib.Search("plan per seat month", 10)
	ids := make(map[string]int)
	for _, h := range hits {
		ids[h.DocumentID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, id)
	}
}

func TestLibrary_NoMatch(t *testing.T) {
	lib, _ := newTestLibrary(t)
	assert.Empty(t, lib.Search("kubernetes", 5))
	assert.Empty(t, lib.Search("the and of", 5))
}

func TestLibrary_MissingDir(t *testing.T) {
	_, err := NewLibrary(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestLibrary_Watch(t *testing.T) {
	lib, dir := newTestLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, lib.Watch(ctx))

	writeDoc(t, dir, "onboarding.md", "# Onboarding\n\nNew customers get a kickoff call within two business days.\n")

	assert.Eventually(t, func() bool {
		hits := lib.Search("kickoff call", 5)
		return len(hits) > 0 && hits[0].DocumentID == "onboarding.md"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSplitDocument(t *testing.T) {
	ps := splitDocument("guide.md", "intro line one\nline two\n\n# Real Title\n\n## Section\nbody")
	require.Len(t, ps, 2)
	assert.Equal(t, "Real Title", ps[0].title)
	assert.Equal(t, "intro line one line two", ps[0].text)
	assert.Equal(t, "body", ps[1].text)
}

func TestSnippet(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, snippet(short))

	long := strings.Repeat("word ", 100)
	s := snippet(long)
	assert.True(t, strings.HasSuffix(s, "…"))
	assert.LessOrEqual(t, len([]rune(s)), maxSnippetRunes+1)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"growth", "plan", "costs", "79"}, tokenize("The Growth plan costs $79!"))
}
