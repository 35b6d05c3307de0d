package scrape

import (
	"regexp"
	"strings"
)

// DefaultTokenPattern matches the integer-prefixed program file the console
// generates for each upload, e.g. "482.st".
var DefaultTokenPattern = regexp.MustCompile(`[0-9]{2,6}\.st`)

// ScrapeToken returns the first match of pattern in body. When pattern has a
// capture group the first group is returned instead of the whole match.
func ScrapeToken(body string, pattern *regexp.Regexp) (string, error) {
	if pattern == nil {
		pattern = DefaultTokenPattern
	}
	m := pattern.FindStringSubmatch(body)
	if m == nil {
		return "", &ScrapeError{What: "token " + pattern.String() + " not found", Excerpt: excerpt(body)}
	}
	if len(m) > 1 && m[1] != "" {
		return m[1], nil
	}
	return m[0], nil
}

// ContainsAny reports the first marker present in body.
func ContainsAny(body string, markers ...string) (string, bool) {
	for _, m := range markers {
		if m != "" && strings.Contains(body, m) {
			return m, true
		}
	}
	return "", false
}
