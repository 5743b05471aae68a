// Package htmlsanitize finalizes a selected message body into safe,
// self-contained HTML: cid rewriting, external-content policy enforcement,
// and a locked-down policy-driven tag/attribute whitelist via bluemonday.
package htmlsanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Policy mirrors the configured security posture for external content.
type Policy struct {
	AllowExternalImages      bool
	AllowExternalStylesheets bool
	AllowInlineStyles        bool
	AllowIframes             bool
	AllowForms               bool
	ProxyExternalContent     bool
	EnforceCSP               bool
}

var cidRefRe = regexp.MustCompile(`(?i)cid:([^"'\s>]+)`)

// RewriteCIDReferences rewrites every cid:<id> reference into the stable
// virtual URL the UI layer resolves inline attachment bytes from.
func RewriteCIDReferences(html, messageID string) string {
	return cidRefRe.ReplaceAllStringFunc(html, func(m string) string {
		sub := cidRefRe.FindStringSubmatch(m)
		if len(sub) != 2 {
			return m
		}
		return fmt.Sprintf("/mail/%s/cid/%s", messageID, sub[1])
	})
}

var externalImgSrcRe = regexp.MustCompile(`(?i)(<img\b[^>]*\bsrc\s*=\s*")(https?://[^"]*)(")`)

const transparentPixelDataURI = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBTAA7"

// ApplyExternalImagePolicy blocks or proxies external image sources per
// policy, run before the attribute/tag whitelist pass so a blocked or
// proxied src survives it unchanged.
func ApplyExternalImagePolicy(html string, policy Policy) (string, []string) {
	if policy.AllowExternalImages {
		return html, nil
	}

	var warnings []string
	out := externalImgSrcRe.ReplaceAllStringFunc(html, func(m string) string {
		sub := externalImgSrcRe.FindStringSubmatch(m)
		if len(sub) != 4 {
			return m
		}
		if policy.ProxyExternalContent {
			return sub[1] + "/proxy?url=" + sub[2] + sub[3]
		}
		warnings = append(warnings, "blocked external image: "+sub[2])
		return sub[1] + transparentPixelDataURI + sub[3]
	})
	return out, warnings
}

// buildPolicy translates the configured Policy into a bluemonday whitelist.
func buildPolicy(policy Policy) *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class", "id").Globally()
	p.AllowAttrs("src", "alt", "width", "height").OnElements("img")
	p.AllowDataURIImages()

	if policy.AllowInlineStyles {
		p.AllowAttrs("style").Globally()
	}
	if policy.AllowExternalStylesheets {
		p.AllowElements("style", "link")
		p.AllowAttrs("rel", "href").OnElements("link")
	}
	if policy.AllowIframes {
		p.AllowElements("iframe")
		p.AllowAttrs("src", "width", "height", "frameborder").OnElements("iframe")
	}
	if policy.AllowForms {
		p.AllowElements("form", "input", "button", "select", "option", "textarea")
		p.AllowAttrs("action", "method").OnElements("form")
	}

	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return p
}

var relAttrRe = regexp.MustCompile(`(?i)(<a\b[^>]*\brel\s*=\s*")([^"]*)(")`)

// enforceNoopener ensures every anchor carries rel="noopener noreferrer",
// appending to whatever bluemonday already set rather than clobbering it.
func enforceNoopener(html string) string {
	return relAttrRe.ReplaceAllStringFunc(html, func(m string) string {
		sub := relAttrRe.FindStringSubmatch(m)
		if len(sub) != 4 {
			return m
		}
		rel := sub[2]
		if !strings.Contains(rel, "noopener") {
			rel = strings.TrimSpace(rel + " noopener")
		}
		if !strings.Contains(rel, "noreferrer") {
			rel = strings.TrimSpace(rel + " noreferrer")
		}
		return sub[1] + rel + sub[3]
	})
}

const cspMeta = `<meta http-equiv="Content-Security-Policy" content="default-src 'none'; img-src 'self' data:; style-src 'unsafe-inline'; script-src 'none';">`

// injectCSP prepends a restrictive CSP meta tag immediately after <head>,
// or at the document start when no <head> is present.
func injectCSP(html string) string {
	lower := strings.ToLower(html)
	if idx := strings.Index(lower, "<head>"); idx >= 0 {
		insertAt := idx + len("<head>")
		return html[:insertAt] + cspMeta + html[insertAt:]
	}
	return cspMeta + html
}

// Finalize runs the full HTML finalization pipeline: cid rewriting,
// external-image policy, tag/attribute whitelist, anchor hardening, and
// optional CSP injection. Returns the finalized HTML plus any warnings
// raised along the way (e.g. blocked external images).
func Finalize(html, messageID string, policy Policy) (string, []string) {
	html = RewriteCIDReferences(html, messageID)

	html, warnings := ApplyExternalImagePolicy(html, policy)

	html = buildPolicy(policy).Sanitize(html)
	html = enforceNoopener(html)

	if policy.EnforceCSP {
		html = injectCSP(html)
	}

	return html, warnings
}
