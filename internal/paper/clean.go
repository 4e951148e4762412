package paper

import (
	"regexp"
	"strings"
)

var (
	abstractHeading  = regexp.MustCompile(`(?im)^\s*abstract\b`)
	bodyHeading      = regexp.MustCompile(`(?im)^\s*(?:introduction\b|background\b|\d+\.)`)
	trailingSections = regexp.MustCompile(`(?im)^\s*(references|bibliography|literature cited)\b`)
	paragraphBreak   = regexp.MustCompile(`\n\s*\n`)
	bracketCitation  = regexp.MustCompile(`\[[^\]]+\]`)
	etAlCitation     = regexp.MustCompile(`(?i)\s*\([^)]*et al[^)]*\)`)
	blankRuns        = regexp.MustCompile(`\n{3,}`)
	blankPairs       = regexp.MustCompile(`\n{2,}`)
)

// StripFrontMatter drops the title page, author list and keywords ahead of
// the paper body, and the references section behind it. The cut point is the
// Abstract heading when one exists, then an Introduction/Background/numbered
// section heading, then the first paragraph longer than sixty words.
func StripFrontMatter(text string) string {
	body := text
	if loc := abstractHeading.FindStringIndex(body); loc != nil {
		body = body[loc[0]:]
	} else if loc := bodyHeading.FindStringIndex(body); loc != nil {
		body = body[loc[0]:]
	} else {
		for _, p := range paragraphBreak.Split(body, -1) {
			if len(strings.Fields(p)) > 60 {
				if idx := strings.Index(body, p); idx >= 0 {
					body = body[idx:]
				}
				break
			}
		}
	}
	if loc := trailingSections.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	body = blankRuns.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

// CleanForNarration prepares paper text for speech: front matter and
// references go, bracketed citation markers and parenthesized "et al."
// references are removed, and blank runs collapse to one empty line.
func CleanForNarration(text string) string {
	body := StripFrontMatter(text)
	body = bracketCitation.ReplaceAllString(body, "")
	body = etAlCitation.ReplaceAllString(body, "")
	body = blankPairs.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

// HasAbstract reports whether the text carries an Abstract heading. Uploads
// without a DOI, PMID, or abstract are rejected as non-papers.
func HasAbstract(text string) bool {
	return abstractHeading.MatchString(text)
}

// Intro renders the short spoken lead-in placed before the narrated body.
func Intro(title, lead string) string {
	switch {
	case title != "" && lead != "":
		return title + ". The lead author is " + lead + ".\n\n"
	case title != "":
		return title + ".\n\n"
	case lead != "":
		return "The lead author is " + lead + ".\n\n"
	}
	return ""
}
