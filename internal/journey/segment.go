// Package journey derives page-transition graphs and run summaries from
// persisted task results. Everything here is a pure function of its input.
package journey

import (
	"strings"

	"github.com/osvaldoandrade/personaq/pkg/domain"
)

// ExtractURLs returns the ordered page URLs of an event sequence. Events with
// no URL are dropped and a single trailing slash is stripped.
func ExtractURLs(events []domain.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.URL == nil {
			continue
		}
		u := normalizeURL(*ev.URL)
		if u == "" {
			continue
		}
		out = append(out, u)
	}
	return out
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if len(u) > 1 && strings.HasSuffix(u, "/") {
		u = u[:len(u)-1]
	}
	return u
}

// Segment splits a URL sequence wherever a page already seen in the current
// segment comes back. An immediate repeat stays in the current segment.
func Segment(urls []string) [][]string {
	if len(urls) == 0 {
		return [][]string{}
	}
	var (
		segments [][]string
		current  []string
		seen     = map[string]struct{}{}
	)
	for i, u := range urls {
		if i > 0 && u == urls[i-1] {
			current = append(current, u)
			continue
		}
		if _, revisit := seen[u]; revisit {
			segments = append(segments, current)
			current = nil
			seen = map[string]struct{}{}
		}
		current = append(current, u)
		seen[u] = struct{}{}
	}
	return append(segments, current)
}
