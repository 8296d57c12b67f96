package common

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	digitsRe = regexp.MustCompile(`\d+`)
	sciRe    = regexp.MustCompile(`^\s*[-+]?\d+(?:\.\d+)?[eE][-+]?\d+\s*$`)
	alnumRe  = regexp.MustCompile(`[^a-z0-9]+`)
)

// accentStripper removes combining marks after NFKD decomposition, so
// "Urbanización" and "Urbanizacion" normalize to the same text.
var accentStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// StripAccents removes diacritic marks from s.
func StripAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}

// CollapseSpaces trims s and collapses internal whitespace runs to single
// spaces.
func CollapseSpaces(s string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// NormHeader normalizes a sheet header for matching: trimmed, lower-cased,
// accent-stripped, whitespace-collapsed. Case/accent/whitespace variants of
// the same logical column name map to one key.
func NormHeader(s string) string {
	return CollapseSpaces(StripAccents(strings.ToLower(strings.TrimSpace(s))))
}

// NormText normalizes free-form page text the same way as headers; used for
// matching activity-log entries and search-result rows.
func NormText(s string) string {
	return NormHeader(s)
}

// reorderStopwords are dropped from reorder match keys so header drifts like
// "fecha y hora de actualización" vs "fecha hora actualizacion" still match.
var reorderStopwords = map[string]bool{
	"de": true, "del": true, "la": true, "el": true,
	"los": true, "las": true, "y": true, "a": true, "al": true,
}

// NormMatchKey builds the tolerant key the reorder engine matches template
// headers with: lower, accent-stripped, punctuation replaced by spaces,
// common Spanish stopwords removed.
func NormMatchKey(s string) string {
	t := StripAccents(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return ""
	}
	t = alnumRe.ReplaceAllString(t, " ")

	var kept []string
	for _, tok := range strings.Fields(t) {
		if !reorderStopwords[tok] {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// HasWord reports whether the normalized text contains word bounded by
// non-alphanumerics, so "resuelto" does not match inside another word.
func HasWord(normText, word string) bool {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)(^|[^a-z0-9])` + regexp.QuoteMeta(w) + `($|[^a-z0-9])`)
	return re.MatchString(normText)
}

// IDKey normalizes heterogeneous identifier representations to a canonical
// comparable key:
//
//   - ints directly, floats by truncation
//   - scientific-notation strings expanded ("1.35921E+05" -> "135921")
//   - otherwise the longest contiguous digit run ("R135921" -> "135921")
//   - leading zeros stripped ("0" if nothing remains)
//
// nil, booleans and blank strings yield "".
func IDKey(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case bool:
		return ""
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case float32:
		return strconv.FormatInt(int64(v), 10)
	case string:
		return idKeyFromString(v)
	default:
		return ""
	}
}

func idKeyFromString(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if sciRe.MatchString(s) {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			s = strconv.FormatInt(int64(f), 10)
		}
	}

	matches := digitsRe.FindAllString(s, -1)
	if len(matches) == 0 {
		return ""
	}

	// Longest run wins; ties keep the first occurrence. Avoids truncation
	// artifacts like picking "1" out of "1.23E+05" text.
	best := matches[0]
	for _, m := range matches[1:] {
		if len(m) > len(best) {
			best = m
		}
	}

	trimmed := strings.TrimLeft(best, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
