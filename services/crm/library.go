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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianCRM/services/assistant/display"
)

const (
	maxSnippetRunes = 280
	reindexDebounce = 250 * time.Millisecond
)

type passage struct {
	docID string
	title string
	text  string
}

// Library is a searchable directory of .md and .txt documents.
//
// Description:
//
//	Each file is split into paragraphs and every paragraph is indexed with
//	BM25. The document title is the first markdown heading, or the file
//	name. Reload rebuilds the whole index; Watch calls it when files
//	change.
//
// Thread Safety: Library is safe for concurrent use.
type Library struct {
	dir    string
	logger *slog.Logger

	mu       sync.RWMutex
	passages []passage
	index    *bm25Index
	docCount int
}

// NewLibrary indexes dir.
func NewLibrary(dir string, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{dir: dir, logger: logger, index: buildBM25Index(nil)}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Dir returns the indexed directory.
func (l *Library) Dir() string {
	return l.dir
}

// Len returns the number of indexed documents.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.docCount
}

// Reload re-reads every document under the directory.
func (l *Library) Reload() error {
	var passages []passage
	docs := 0
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isDocument(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			rel = path
		}
		docs++
		passages = append(passages, splitDocument(filepath.ToSlash(rel), string(data))...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("crm: indexing %s: %w", l.dir, err)
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		// Titles weigh in every passage of their document.
		texts[i] = p.title + "\n" + p.text
	}
	index := buildBM25Index(texts)

	l.mu.Lock()
	l.passages, l.index, l.docCount = passages, index, docs
	l.mu.Unlock()

	l.logger.Info("document library indexed",
		slog.String("dir", l.dir),
		slog.Int("documents", docs),
		slog.Int("passages", len(passages)),
	)
	return nil
}

// Search returns up to limit passages ranked by relevance, at most one per
// document.
func (l *Library) Search(query string, limit int) []display.SearchHit {
	if limit <= 0 {
		limit = 5
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	scores := l.index.score(query)
	ranked := make([]int, 0, len(scores))
	for i := range scores {
		ranked = append(ranked, i)
	}
	sort.Slice(ranked, func(a, b int) bool {
		if scores[ranked[a]] != scores[ranked[b]] {
			return scores[ranked[a]] > scores[ranked[b]]
		}
		return ranked[a] < ranked[b]
	})

	seen := make(map[string]bool)
	hits := make([]display.SearchHit, 0, limit)
	for _, i := range ranked {
		p := l.passages[i]
		if seen[p.docID] {
			continue
		}
		seen[p.docID] = true
		hits = append(hits, display.SearchHit{
			DocumentID: p.docID,
			Title:      p.title,
			Snippet:    snippet(p.text),
			Score:      scores[i],
		})
		if len(hits) == limit {
			break
		}
	}
	return hits
}

// Watch re-indexes the library when files under its directory change,
// until ctx is done. Bursts of events are coalesced.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("crm: creating watcher: %w", err)
	}
	err = filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("crm: watching %s: %w", l.dir, err)
	}

	go func() {
		defer watcher.Close()
		var (
			timerMu sync.Mutex
			timer   *time.Timer
		)
		schedule := func() {
			timerMu.Lock()
			defer timerMu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reindexDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := l.Reload(); err != nil {
					l.logger.Warn("document library reload failed", slog.String("error", err.Error()))
				}
			})
		}

		for {
			select {
			case <-ctx.Done():
				timerMu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timerMu.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
						schedule()
						continue
					}
				}
				if isDocument(event.Name) {
					schedule()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("document watcher error", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}

func isDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// splitDocument cuts a document into blank-line separated paragraphs.
// Markdown headings become the title (the first one) and are not passages.
func splitDocument(docID, content string) []passage {
	title := strings.TrimSuffix(filepath.Base(docID), filepath.Ext(docID))
	var paragraphs []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			paragraphs = append(paragraphs, strings.Join(current, " "))
			current = nil
		}
	}

	titled := false
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "#"):
			flush()
			if !titled {
				title = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
				titled = true
			}
		default:
			current = append(current, trimmed)
		}
	}
	flush()

	out := make([]passage, 0, len(paragraphs))
	for _, p := range paragraphs {
		out = append(out, passage{docID: docID, title: title, text: p})
	}
	return out
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= maxSnippetRunes {
		return text
	}
	cut := string(r[:maxSnippetRunes])
	if i := strings.LastIndexByte(cut, ' '); i > maxSnippetRunes/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
