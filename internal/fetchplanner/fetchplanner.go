// Package fetchplanner turns a parsed MIME structure plus a fetch strategy
// into a concrete FetchPlan: which sections to fetch now, which to defer,
// and whether to serve from cache only.
package fetchplanner

import (
	"sort"
	"strings"

	"github.com/kestrelmail/mailcore/internal/mime"
)

// Strategy selects how much of a message to fetch eagerly.
type Strategy string

const (
	StrategyMinimal  Strategy = "minimal"
	StrategyStandard Strategy = "standard"
	StrategyComplete Strategy = "complete"
	StrategyLazy     Strategy = "lazy"
	StrategyOffline  Strategy = "offline"
)

// ConnectionSpeed is the adaptive-rule input describing current network
// conditions.
type ConnectionSpeed int

const (
	SpeedUnknown ConnectionSpeed = iota
	SpeedSlow
	SpeedFast
)

const largeMessageThresholdBytes = 1 * 1024 * 1024

// ResolveStrategy applies the adaptive rule: offline wins outright; a slow
// connection downgrades to lazy (large message) or minimal; a fast
// connection defers to the caller's preferred strategy; otherwise standard.
func ResolveStrategy(requested Strategy, speed ConnectionSpeed, estimatedSizeBytes int64) Strategy {
	if requested == StrategyOffline {
		return StrategyOffline
	}
	switch speed {
	case SpeedSlow:
		if estimatedSizeBytes > largeMessageThresholdBytes {
			return StrategyLazy
		}
		return StrategyMinimal
	case SpeedFast:
		return requested
	default:
		return StrategyStandard
	}
}

// Purpose classifies why a section is being fetched.
type Purpose string

const (
	PurposeBody          Purpose = "body"
	PurposeInlineImage    Purpose = "inlineImage"
	PurposeAttachment     Purpose = "attachment"
)

// SectionSpec names one IMAP-addressable section to fetch.
type SectionSpec struct {
	PartID       string
	SectionID    string
	ExpectedSize int64
	MediaType    string
	Purpose      Purpose
	Priority     int
}

// FetchPlan is the planner's output.
type FetchPlan struct {
	Sections  []SectionSpec
	Deferred  []SectionSpec
	CacheOnly bool
}

const smallFileThresholdBytes = 100 * 1024
const penalizedAttachmentThresholdBytes = 5 * 1024 * 1024

// Plan builds a FetchPlan from parsed MIME parts under the resolved strategy.
func Plan(parts []mime.MimePart, strategy Strategy) FetchPlan {
	if strategy == StrategyOffline {
		return FetchPlan{CacheOnly: true}
	}

	body := bestBodyCandidate(parts)
	var immediate, deferred []SectionSpec

	for _, p := range parts {
		if p.PartID == "" || strings.HasPrefix(p.MediaType, "multipart/") {
			continue // multipart container parts carry no independently fetchable section
		}
		spec := SectionSpec{
			PartID:       p.PartID,
			SectionID:    p.PartID,
			ExpectedSize: int64(p.SizeOctets),
			MediaType:    p.MediaType,
		}

		switch {
		case body != nil && p.PartID == body.PartID:
			spec.Purpose = PurposeBody
		case isInlineImage(p):
			spec.Purpose = PurposeInlineImage
		default:
			spec.Purpose = PurposeAttachment
		}

		spec.Priority = priorityOf(spec, body)

		switch strategy {
		case StrategyMinimal:
			if spec.Purpose == PurposeBody {
				immediate = append(immediate, spec)
			}
			// non-body sections are not planned at all under minimal
		case StrategyLazy:
			if spec.Purpose == PurposeBody {
				immediate = append(immediate, spec)
			} else {
				deferred = append(deferred, spec)
			}
		case StrategyStandard:
			if spec.Purpose == PurposeBody || spec.Purpose == PurposeInlineImage {
				immediate = append(immediate, spec)
			} else {
				deferred = append(deferred, spec)
			}
		case StrategyComplete:
			immediate = append(immediate, spec)
		default:
			immediate = append(immediate, spec)
		}
	}

	sort.SliceStable(immediate, func(i, j int) bool {
		return immediate[i].Priority > immediate[j].Priority
	})

	return FetchPlan{Sections: immediate, Deferred: deferred}
}

func bestBodyCandidate(parts []mime.MimePart) *mime.MimePart {
	var best *mime.MimePart
	for i := range parts {
		p := &parts[i]
		if !p.IsBodyCandidate {
			continue
		}
		if best == nil {
			best = p
			continue
		}
		// html beats plain when both are marked candidates.
		if p.MediaType == "text/html" && best.MediaType != "text/html" {
			best = p
		}
	}
	return best
}

func isInlineImage(p mime.MimePart) bool {
	if p.Disposition != "inline" && p.ContentID == "" {
		return false
	}
	return len(p.MediaType) >= 6 && p.MediaType[:6] == "image/"
}

// priorityOf ranks a section for fetch ordering: body first (html above
// plain), then inline images, then small files, with large attachments
// penalized further.
func priorityOf(spec SectionSpec, body *mime.MimePart) int {
	switch spec.Purpose {
	case PurposeBody:
		if spec.MediaType == "text/html" {
			return 100
		}
		return 90
	case PurposeInlineImage:
		return 70
	default:
		score := 40
		if spec.ExpectedSize > 0 && spec.ExpectedSize < smallFileThresholdBytes {
			score += 10
		}
		if spec.ExpectedSize >= penalizedAttachmentThresholdBytes {
			score -= 20
		}
		return score
	}
}

// Chunk is one (partId, offset, length) range within a ranged partial fetch.
type Chunk struct {
	PartID string
	Offset int64
	Length int64
}

const defaultChunkSize = 512 * 1024

// ChunkSection splits a section into ascending-offset fixed-size chunks for
// ranged fetching of large sections.
func ChunkSection(section SectionSpec, chunkSize int64) []Chunk {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	var chunks []Chunk
	for offset := int64(0); offset < section.ExpectedSize; offset += chunkSize {
		length := chunkSize
		if remaining := section.ExpectedSize - offset; remaining < length {
			length = remaining
		}
		chunks = append(chunks, Chunk{PartID: section.PartID, Offset: offset, Length: length})
	}
	return chunks
}

const maxGroupedSizeBytes = 1 * 1024 * 1024

// GroupCommands batches adjacent immediate sections whose cumulative
// expected size stays within the transport's preferred multi-section fetch
// ceiling, preserving priority order within each group.
func GroupCommands(sections []SectionSpec) [][]SectionSpec {
	var groups [][]SectionSpec
	var current []SectionSpec
	var currentSize int64

	for _, s := range sections {
		if len(current) > 0 && currentSize+s.ExpectedSize > maxGroupedSizeBytes {
			groups = append(groups, current)
			current = nil
			currentSize = 0
		}
		current = append(current, s)
		currentSize += s.ExpectedSize
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
