package logagg

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/searchkit/resilience/pkg/resilience/classify"
)

var (
	digitRuns  = regexp.MustCompile(`\d+`)
	quoteChars = regexp.MustCompile("[\"'`]")
	whitespace = regexp.MustCompile(`\s+`)
)

// normalizeMessage canonicalizes a message so that errors differing
// only in numeric detail (ids, timings, offsets) still aggregate:
// lowercase, digit runs collapsed to a single token, quotes stripped,
// whitespace collapsed.
func normalizeMessage(msg string) string {
	msg = strings.ToLower(msg)
	msg = digitRuns.ReplaceAllString(msg, "#")
	msg = quoteChars.ReplaceAllString(msg, "")
	msg = whitespace.ReplaceAllString(msg, " ")
	return strings.TrimSpace(msg)
}

// Fingerprint derives the deterministic duplicate-detection digest
// from the error's type, code, normalized message, and adapter.
func Fingerprint(rec *classify.Record, adapter string) string {
	key := strings.Join([]string{
		string(rec.Type),
		rec.Code,
		normalizeMessage(rec.Message),
		adapter,
	}, "|")
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}
