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
	"regexp"
)

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Applied in order; the Google key rule must run before the generic key= rule
// so the label survives.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`), "[REDACTED:google_api_key]"},
	{regexp.MustCompile(`ya29\.[A-Za-z0-9._-]{20,}`), "[REDACTED:oauth_token]"},
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`), "[REDACTED:bearer_token]"},
	{regexp.MustCompile(`(?i)x-goog-api-key:\s*\S+`), "x-goog-api-key: [REDACTED]"},
	{regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`), "key=[REDACTED]"},
}

// SafeLogString removes API keys and tokens from s before it is logged or
// returned in an error.
//
// Pattern based: keys in formats not listed above pass through unchanged.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, r := range redactionRules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}
