// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dedupe

import (
	"regexp"
	"strings"
	"time"

	"storj.io/drivesweep/gateway"
)

var (
	nonWord       = regexp.MustCompile(`[^\w.\-]+`)
	whitespace    = regexp.MustCompile(`\s+`)
	versionSuffix = regexp.MustCompile(`_?(copy|final|draft|v\d+|\d+)$`)

	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\(\d+\)`),
		regexp.MustCompile(`(?i)_copy\b`),
		regexp.MustCompile(`(?i)_v\d+\b`),
		regexp.MustCompile(`(?i)_final\b`),
		regexp.MustCompile(`(?i)_draft\b`),
		regexp.MustCompile(`(?i)\bcopy of\b`),
	}
)

// normalizeName lowercases, collapses whitespace to underscores, strips
// punctuation and trailing version suffixes. "Report (1).pdf" and
// "report.pdf" normalize to the same string.
func normalizeName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))

	stem, ext := lower, ""
	if dot := strings.LastIndex(lower, "."); dot > 0 {
		stem, ext = lower[:dot], lower[dot:]
	}

	stem = whitespace.ReplaceAllString(stem, "_")
	stem = nonWord.ReplaceAllString(stem, "")
	for {
		stripped := versionSuffix.ReplaceAllString(stem, "")
		if stripped == stem || stripped == "" {
			break
		}
		stem = stripped
	}
	return stem + ext
}

// looksVersioned reports whether the raw name matches a version-copy
// pattern such as "(1)", "_copy" or "_final".
func looksVersioned(name string) bool {
	for _, pattern := range versionPatterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// qualityScore rates how much a file looks like the copy worth
// keeping. Bigger, recent, shared files named without copy markers
// score highest.
func qualityScore(file *gateway.FileInfo, now time.Time) int {
	score := 50

	if file.Size > 0 {
		score += 10
	}
	if file.Size > 1<<20 {
		score += 5
	}

	age := now.Sub(file.ModifiedAt)
	switch {
	case age < 30*24*time.Hour:
		score += 15
	case age < 90*24*time.Hour:
		score += 10
	case age < 365*24*time.Hour:
		score += 5
	}

	lower := strings.ToLower(file.Name)
	if strings.Contains(lower, "copy") {
		score -= 20
	}
	if strings.Contains(lower, "(1)") || strings.Contains(lower, "(2)") {
		score -= 25
	}
	if strings.Contains(lower, "draft") {
		score -= 10
	}
	if strings.Contains(lower, "final") {
		score += 10
	}
	if strings.Contains(lower, "backup") {
		score -= 15
	}

	if file.Shared {
		score += 10
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
