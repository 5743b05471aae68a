// Package bodyselector scores candidate message body parts and picks the
// best one for display, per the heuristic rules in the content-store design.
package bodyselector

import (
	"strings"

	"github.com/kestrelmail/mailcore/internal/mime"
)

// Strategy selects among preferHTML, preferPlainText, or smart (score-based).
type Strategy int

const (
	Smart Strategy = iota
	PreferHTML
	PreferPlainText
)

var richFormattingTokens = []string{"<table", "<img", "<div", "<span", "<style", "<font"}

var fallbackPhrases = []string{
	"view this email in your browser",
	"please enable html",
	"html version",
	"click here to view",
}

// Candidate is a scoreable body part.
type Candidate struct {
	Part    mime.MimePart
	Content string
}

// Selection is the chosen body plus the Content-IDs it references inline.
type Selection struct {
	Part          mime.MimePart
	Content       string
	Score         int
	InlineContentIDs []string
}

// Select scores every candidate and returns the winner under strategy.
// Returns false if candidates is empty.
func Select(candidates []Candidate, strategy Strategy) (Selection, bool) {
	if len(candidates) == 0 {
		return Selection{}, false
	}

	filtered := candidates
	switch strategy {
	case PreferHTML:
		if html := filterByMediaType(candidates, "text/html"); len(html) > 0 {
			filtered = html
		}
	case PreferPlainText:
		if plain := filterByMediaType(candidates, "text/plain"); len(plain) > 0 {
			filtered = plain
		}
	}

	best := filtered[0]
	bestScore := score(best)
	for _, c := range filtered[1:] {
		s := score(c)
		if s > bestScore {
			best = c
			bestScore = s
		}
	}

	return Selection{
		Part:             best.Part,
		Content:          best.Content,
		Score:            bestScore,
		InlineContentIDs: mime.ExtractCIDReferences(best.Content),
	}, true
}

func filterByMediaType(candidates []Candidate, mediaType string) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.Part.MediaType == mediaType {
			out = append(out, c)
		}
	}
	return out
}

func score(c Candidate) int {
	isHTML := c.Part.MediaType == "text/html"
	isPlain := c.Part.MediaType == "text/plain"

	s := 0
	switch {
	case isHTML:
		s += 100
	case isPlain:
		s += 50
	default:
		s += 20 // enriched/rtf
	}

	n := len(c.Content)
	switch {
	case n > 1000:
		if isHTML {
			s += 20
		} else {
			s += 15
		}
	case n >= 500:
		if isHTML {
			s += 10
		} else {
			s += 8
		}
	}

	if isHTML {
		lower := strings.ToLower(c.Content)
		for _, token := range richFormattingTokens {
			if strings.Contains(lower, token) {
				s += 10
				break
			}
		}
		if strings.Contains(lower, "cid:") {
			s += 15
		}
	}

	if strings.EqualFold(c.Part.Charset, "utf-8") {
		s += 5
	}

	if isPlain && looksLikeHTMLFallback(c.Content) {
		s -= 20
	}

	if c.Part.Disposition == "inline" {
		s += 5
	}

	return s
}

func looksLikeHTMLFallback(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) <= 50 {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range fallbackPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
