// Package transcript renders session turns into the numbered transcript the
// classification, extraction and composition prompts read.
package transcript

import (
	"fmt"
	"strings"

	"gem-concierge/internal/domain"
)

// DefaultMaxPairs bounds the number of prior exchanges kept in a transcript.
const DefaultMaxPairs = 20

// Build renders completed prior turns followed by the current utterance:
//
//	1. customer: I want a gift, assistant: Who is it for?;
//	2. customer: My sister;
//
// Only the newest maxPairs completed turns are kept. Incomplete turns are
// skipped. The output depends only on the inputs.
func Build(turns []domain.Turn, utterance string, maxPairs int) string {
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}

	completed := make([]domain.Turn, 0, len(turns))
	for _, t := range turns {
		t.Utterance = normalize(t.Utterance)
		t.Reply = normalize(t.Reply)
		if t.Completed() {
			completed = append(completed, t)
		}
	}
	if len(completed) > maxPairs {
		completed = completed[len(completed)-maxPairs:]
	}

	lines := make([]string, 0, len(completed)+1)
	for i, t := range completed {
		lines = append(lines, fmt.Sprintf("%d. customer: %s, assistant: %s;", i+1, t.Utterance, t.Reply))
	}
	lines = append(lines, fmt.Sprintf("%d. customer: %s;", len(completed)+1, normalize(utterance)))
	return strings.Join(lines, "\n")
}

// normalize collapses whitespace so a multi-line message stays on its line.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
