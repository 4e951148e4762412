package paper

import (
	"regexp"
	"strings"
)

var (
	doiPattern  = regexp.MustCompile(`\b10\.\d{4,9}/[^\s"'<>]+`)
	pmidPattern = regexp.MustCompile(`PMID[:\s]+(\d{6,8})`)
)

// ExtractDOI returns the first DOI in text with trailing punctuation
// trimmed, or "" when none is present.
func ExtractDOI(text string) string {
	m := doiPattern.FindString(text)
	if m == "" {
		return ""
	}
	return strings.TrimRight(m, ".;,\n\r")
}

// ExtractPMID returns the first PubMed identifier written as "PMID: nnn".
func ExtractPMID(text string) string {
	m := pmidPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
