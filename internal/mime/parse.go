// Package mime provides MIME message parsing using enmime.
package mime

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime"
)

// Message represents a parsed email message.
type Message struct {
	Subject string
	From    []Address
	Parts   []MimePart // flattened MIME part tree, in depth-first order
	Errors  []string   // Non-fatal parsing errors
}

// MimePart is a structural description of one node in a message's MIME tree,
// addressed by an RFC 3501 section path ("1", "1.2", "1.2.1", ...).
type MimePart struct {
	PartID             string
	Parent             string // empty for the root part
	MediaType          string
	Charset            string
	TransferEncoding   string
	Disposition        string // "inline" or "attachment" (empty if unspecified)
	FilenameRaw        string
	FilenameNormalized string
	ContentID          string
	SizeOctets         int
	IsBodyCandidate    bool
	Content            []byte
}

// bodyCandidateTypes are the media types eligible to serve as a displayed body.
var bodyCandidateTypes = map[string]bool{
	"text/plain":    true,
	"text/html":     true,
	"text/enriched": true,
}

// isBodyCandidateType reports whether mediaType/disposition combination
// qualifies a part as a body candidate per the data model invariant:
// isBodyCandidate ⇔ mediaType ∈ {text/plain, text/html, text/enriched} and
// not an attachment disposition.
func isBodyCandidateType(mediaType, disposition string) bool {
	return bodyCandidateTypes[mediaType] && disposition != "attachment"
}

// Address represents an email address with optional display name.
type Address struct {
	Name   string
	Email  string
	Domain string // Extracted from email for aggregation
}

// Parse parses raw MIME data into a Message.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject: env.GetHeader("Subject"),
	}

	// Parse addresses using enmime's AddressList (handles edge cases better)
	msg.From = parseAddressList(env, "From")

	// Collect any parsing errors
	for _, e := range env.Errors {
		msg.Errors = append(msg.Errors, e.Error())
	}

	if env.Root != nil {
		msg.Parts = walkParts(env.Root, "", 0)
	}

	return msg, nil
}

// walkParts performs a single-pass, depth-first traversal of an enmime part
// tree, assigning RFC 3501 section paths as it goes: the root is "1";
// children of a multipart are "parent.1", "parent.2", ...
func walkParts(part *enmime.Part, parentID string, index int) []MimePart {
	if part == nil {
		return nil
	}

	var partID string
	if parentID == "" {
		partID = "1"
	} else {
		partID = fmt.Sprintf("%s.%d", parentID, index)
	}

	mediaType, charset := splitContentType(part.ContentType)
	if charset == "" {
		charset = part.Charset
	}
	disposition := normalizeDisposition(part.Disposition)

	mp := MimePart{
		PartID:             partID,
		Parent:             parentID,
		MediaType:          mediaType,
		Charset:            charset,
		TransferEncoding:   strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding"))),
		Disposition:        disposition,
		FilenameRaw:        part.FileName,
		FilenameNormalized: normalizeFilename(part.FileName),
		ContentID:          strings.Trim(part.ContentID, "<>"),
		SizeOctets:         len(part.Content),
		IsBodyCandidate:    isBodyCandidateType(mediaType, disposition),
		Content:            part.Content,
	}

	result := []MimePart{mp}

	childIndex := 1
	for child := part.FirstChild; child != nil; child = child.NextSibling {
		result = append(result, walkParts(child, partID, childIndex)...)
		childIndex++
	}

	return result
}

// splitContentType strips parameters from a Content-Type header value and
// extracts the charset parameter if present, lower-casing the base type.
func splitContentType(contentType string) (mediaType, charset string) {
	mediaType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		params := mediaType[idx+1:]
		mediaType = strings.TrimSpace(mediaType[:idx])
		for _, p := range strings.Split(params, ";") {
			p = strings.TrimSpace(p)
			if v, ok := strings.CutPrefix(strings.ToLower(p), "charset="); ok {
				charset = strings.Trim(v, `"'`)
			}
		}
	}
	return mediaType, charset
}

// normalizeDisposition lowercases and strips parameters from a
// Content-Disposition value, leaving just "inline" or "attachment".
func normalizeDisposition(disposition string) string {
	d := strings.ToLower(strings.TrimSpace(disposition))
	if idx := strings.Index(d, ";"); idx >= 0 {
		d = strings.TrimSpace(d[:idx])
	}
	return d
}

// filenameSanitizeRe matches characters disallowed in a normalized filename.
var filenameSanitizeRe = regexp.MustCompile(`[^A-Za-z0-9_\-.]`)

// normalizeFilename strips path components and replaces disallowed
// characters, matching the filename hygiene rule applied before storage.
func normalizeFilename(name string) string {
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = filenameSanitizeRe.ReplaceAllString(name, "_")
	const maxLen = 255
	if len(name) > maxLen {
		ext := ""
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			ext = name[idx:]
		}
		name = name[:maxLen-len(ext)] + ext
	}
	return name
}

// cidRefRe matches cid: references embedded in HTML src/href attributes.
var cidRefRe = regexp.MustCompile(`(?i)cid:([^"'\s>]+)`)

// ExtractCIDReferences returns every Content-ID referenced via a cid: URL
// within html, in the order encountered.
func ExtractCIDReferences(html string) []string {
	matches := cidRefRe.FindAllStringSubmatch(html, -1)
	if matches == nil {
		return nil
	}
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, m[1])
	}
	return refs
}

// parseAddressList parses an address header using enmime's AddressList method.
func parseAddressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil || list == nil {
		return nil
	}

	addresses := make([]Address, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		addresses = append(addresses, Address{
			Name:   addr.Name,
			Email:  strings.ToLower(addr.Address),
			Domain: extractDomain(addr.Address),
		})
	}
	return addresses
}

// extractDomain extracts the domain from an email address.
func extractDomain(email string) string {
	if idx := strings.LastIndex(email, "@"); idx >= 0 {
		return strings.ToLower(email[idx+1:])
	}
	return ""
}

// GetFirstFrom returns the first From address, or empty if none.
func (m *Message) GetFirstFrom() Address {
	if len(m.From) > 0 {
		return m.From[0]
	}
	return Address{}
}
