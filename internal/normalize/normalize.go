// Package normalize canonicalizes raw work-item descriptions before embedding.
package normalize

import (
	"errors"
	"regexp"
	"strings"
)

// ErrEmptyDescription reports an input that carries no text content. Empty
// rows must not reach the embedding provider.
var ErrEmptyDescription = errors.New("empty description")

var (
	// Currency marks and decorative symbols carry no matching signal.
	currencyRe = regexp.MustCompile(`[€$£₤]|zł|pln\b|eur\b|usd\b`)
	symbolRe   = regexp.MustCompile(`[*#"„”‚’·•|]+`)
	spaceRe    = regexp.MustCompile(`\s+`)
	// A number followed by a unit token, possibly separated by whitespace.
	// "50 mm" and "50mm" describe the same dimension; joining them makes the
	// two spellings embed identically. Numeric tokens themselves are kept
	// verbatim since dimensions and quantities are often decisive.
	unitRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s+(mm2|mm3|cm2|cm3|m2|m3|mm|cm|km|mb|m|kg|g|t|ml|l|kw|w|v|szt|pcs|inch|in)\b`)
)

// Normalize lower-cases raw, strips currency marks and formatting symbols,
// joins number-unit pairs, and collapses whitespace. Pure and idempotent:
// Normalize(Normalize(x)) == Normalize(x). Returns ErrEmptyDescription when
// nothing semantic remains.
func Normalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmptyDescription
	}
	s := strings.ToLower(raw)
	s = currencyRe.ReplaceAllString(s, " ")
	s = symbolRe.ReplaceAllString(s, " ")
	s = unitRe.ReplaceAllString(s, "$1$2")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyDescription
	}
	return s, nil
}
