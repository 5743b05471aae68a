package bodyselector

import (
	"strings"
	"testing"

	"github.com/kestrelmail/mailcore/internal/mime"
)

func TestSelectPrefersHTMLByDefault(t *testing.T) {
	candidates := []Candidate{
		{Part: mime.MimePart{MediaType: "text/plain", Charset: "utf-8"}, Content: strings.Repeat("plain text body ", 50)},
		{Part: mime.MimePart{MediaType: "text/html", Charset: "utf-8"}, Content: "<div>" + strings.Repeat("html body ", 50) + "</div>"},
	}

	sel, ok := Select(candidates, Smart)
	if !ok {
		t.Fatal("expected a selection")
	}
	if sel.Part.MediaType != "text/html" {
		t.Errorf("MediaType = %q, want text/html", sel.Part.MediaType)
	}
}

func TestSelectPenalizesHTMLFallbackPlainText(t *testing.T) {
	candidates := []Candidate{
		{Part: mime.MimePart{MediaType: "text/plain"}, Content: "Please enable HTML to view this message."},
	}
	sel, ok := Select(candidates, Smart)
	if !ok {
		t.Fatal("expected a selection")
	}
	if sel.Score >= 50 {
		t.Errorf("Score = %d, expected fallback penalty to drop it below base score", sel.Score)
	}
}

func TestSelectPreferPlainTextStrategy(t *testing.T) {
	candidates := []Candidate{
		{Part: mime.MimePart{MediaType: "text/html"}, Content: "<p>html</p>"},
		{Part: mime.MimePart{MediaType: "text/plain"}, Content: "plain text"},
	}
	sel, ok := Select(candidates, PreferPlainText)
	if !ok {
		t.Fatal("expected a selection")
	}
	if sel.Part.MediaType != "text/plain" {
		t.Errorf("MediaType = %q, want text/plain", sel.Part.MediaType)
	}
}

func TestSelectExtractsInlineContentIDs(t *testing.T) {
	candidates := []Candidate{
		{Part: mime.MimePart{MediaType: "text/html"}, Content: `<img src="cid:logo123@x">`},
	}
	sel, ok := Select(candidates, Smart)
	if !ok {
		t.Fatal("expected a selection")
	}
	if len(sel.InlineContentIDs) != 1 || sel.InlineContentIDs[0] != "logo123@x" {
		t.Errorf("InlineContentIDs = %v, want [logo123@x]", sel.InlineContentIDs)
	}
}

func TestSelectEmptyCandidates(t *testing.T) {
	if _, ok := Select(nil, Smart); ok {
		t.Error("expected no selection for empty candidate list")
	}
}

func TestSelectRichFormattingBonus(t *testing.T) {
	plain := Candidate{Part: mime.MimePart{MediaType: "text/html"}, Content: strings.Repeat("x", 600)}
	rich := Candidate{Part: mime.MimePart{MediaType: "text/html"}, Content: strings.Repeat("x", 600) + "<table><tr><td>1</td></tr></table>"}

	plainScore := score(plain)
	richScore := score(rich)
	if richScore <= plainScore {
		t.Errorf("richScore %d should exceed plainScore %d", richScore, plainScore)
	}
}
