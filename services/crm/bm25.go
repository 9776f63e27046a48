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
	"math"
	"strings"
	"unicode"
)

// Standard Okapi BM25 parameters.
const (
	// bm25K1 controls term frequency saturation.
	bm25K1 = 1.5

	// bm25B controls document length normalization.
	bm25B = 0.75
)

// bm25Doc is one tokenized passage.
type bm25Doc struct {
	tf  map[string]int
	len int
}

// bm25Index ranks passages against a query.
//
// Unlike a keyword router, passages are prose, so term frequency is counted
// rather than treated as binary presence.
//
// Thread Safety: Immutable after buildBM25Index.
type bm25Index struct {
	docs   []bm25Doc
	idf    map[string]float64
	avgLen float64
}

// buildBM25Index indexes texts; scores are keyed by position in texts.
func buildBM25Index(texts []string) *bm25Index {
	idx := &bm25Index{idf: make(map[string]float64)}
	if len(texts) == 0 {
		return idx
	}

	df := make(map[string]int)
	totalLen := 0
	idx.docs = make([]bm25Doc, 0, len(texts))
	for _, text := range texts {
		terms := tokenize(text)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			df[t]++
		}
		idx.docs = append(idx.docs, bm25Doc{tf: tf, len: len(terms)})
		totalLen += len(terms)
	}

	n := len(idx.docs)
	idx.avgLen = float64(totalLen) / float64(n)
	if idx.avgLen == 0 {
		idx.avgLen = 1
	}
	// Lucene-style smoothing keeps idf >= 1.
	for term, docFreq := range df {
		idx.idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}
	return idx
}

// score returns document position -> score normalized to (0, 1]. Documents
// that match no query term are omitted.
func (idx *bm25Index) score(query string) map[int]float64 {
	scores := make(map[int]float64)
	terms := tokenize(query)
	if len(terms) == 0 || len(idx.docs) == 0 {
		return scores
	}
	unique := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		unique[t] = struct{}{}
	}

	var maxScore float64
	for i, doc := range idx.docs {
		s := bm25Score(unique, doc, idx.idf, idx.avgLen)
		if s <= 0 {
			continue
		}
		scores[i] = s
		if s > maxScore {
			maxScore = s
		}
	}
	for i := range scores {
		scores[i] /= maxScore
	}
	return scores
}

func bm25Score(terms map[string]struct{}, doc bm25Doc, idf map[string]float64, avgLen float64) float64 {
	dl := float64(doc.len)
	var score float64
	for term := range terms {
		tf, ok := doc.tf[term]
		if !ok {
			continue
		}
		tfFloat := float64(tf)
		numerator := tfFloat * (bm25K1 + 1)
		denominator := tfFloat + bm25K1*(1.0-bm25B+bm25B*dl/avgLen)
		score += idf[term] * (numerator / denominator)
	}
	return score
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {}, "is": {}, "it": {},
	"me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "our": {}, "the": {}, "this": {},
	"to": {}, "we": {}, "what": {}, "with": {}, "you": {}, "your": {},
}

// tokenize lowercases text, splits on anything that is not a letter or
// digit, and drops stop words and single characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
