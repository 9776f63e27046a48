// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package display

import (
	"encoding/json"
)

// Classify decides whether tool result data has a renderable shape.
//
// Draft and SearchResults values (or pointers to them) are recognised
// directly. Generic JSON objects are recognised by their keys: recipient,
// subject and body for a draft; hits or results holding a list for search
// results. Anything else returns ok=false and projects nothing.
func Classify(data any) (Kind, any, bool) {
	switch v := data.(type) {
	case nil:
		return "", nil, false
	case Draft:
		return KindDraft, v, true
	case *Draft:
		if v == nil {
			return "", nil, false
		}
		return KindDraft, *v, true
	case SearchResults:
		return KindSearchResults, v, true
	case *SearchResults:
		if v == nil {
			return "", nil, false
		}
		return KindSearchResults, *v, true
	case map[string]any:
		return classifyMap(v)
	}

	// Other structs: look at their JSON form.
	raw, err := json.Marshal(data)
	if err != nil {
		return "", nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", nil, false
	}
	return classifyMap(m)
}

func classifyMap(m map[string]any) (Kind, any, bool) {
	if isString(m["recipient"]) && isString(m["subject"]) && isString(m["body"]) {
		return KindDraft, Draft{
			Recipient: m["recipient"].(string),
			Subject:   m["subject"].(string),
			Body:      m["body"].(string),
		}, true
	}
	for _, key := range []string{"hits", "results"} {
		if list, ok := m[key].([]any); ok {
			return KindSearchResults, searchFromList(m, list), true
		}
	}
	return "", nil, false
}

func searchFromList(m map[string]any, list []any) SearchResults {
	out := SearchResults{Hits: make([]SearchHit, 0, len(list))}
	if q, ok := m["query"].(string); ok {
		out.Query = q
	}
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		hit := SearchHit{}
		hit.DocumentID, _ = obj["document_id"].(string)
		hit.Title, _ = obj["title"].(string)
		hit.Snippet, _ = obj["snippet"].(string)
		hit.Score, _ = obj["score"].(float64)
		out.Hits = append(out.Hits, hit)
	}
	return out
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}
