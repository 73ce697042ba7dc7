package similarity

import (
	"strings"
	"unicode"
)

// doiPrefixes are stripped from identifier values before comparison.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// Normalize returns the comparison key of a metadata value:
//   - identifier fields (".doi" suffix) are lowercased and stripped of resolver prefixes
//   - all other fields are lowercased, punctuation is dropped and whitespace collapsed
//
// An empty result means the value never matches.
func Normalize(field, value string) string {
	if strings.HasSuffix(field, ".doi") {
		return NormalizeDOI(value)
	}
	return NormalizeText(value)
}

// NormalizeDOI lowercases a DOI and removes resolver and scheme prefixes.
func NormalizeDOI(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, p := range doiPrefixes {
		if strings.HasPrefix(v, p) {
			v = strings.TrimSpace(v[len(p):])
			break
		}
	}
	return v
}

// NormalizeText lowercases text, keeps letters and digits, and collapses
// every run of other characters into a single space.
func NormalizeText(value string) string {
	var sb strings.Builder
	sb.Grow(len(value))
	pendingSpace := false

	for _, r := range strings.ToLower(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && sb.Len() > 0 {
				sb.WriteRune(' ')
			}
			sb.WriteRune(r)
			pendingSpace = false
			continue
		}
		pendingSpace = true
	}

	return sb.String()
}
