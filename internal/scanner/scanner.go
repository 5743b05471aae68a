// Package scanner implements the pre-store security capability consumed by
// the processing pipeline and attachment downloader: size ceilings, magic-
// number sniffing, archive heuristics, and filename sanitization.
package scanner

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"regexp"
	"strings"
)

// Status mirrors the blob store's scan-status vocabulary.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClean      Status = "clean"
	StatusInfected   Status = "infected"
	StatusScanError  Status = "scanError"
	StatusSkipped    Status = "skipped"
)

// Result is the outcome of scanning one blob of content.
type Result struct {
	Status            Status
	ThreatName        string
	EffectiveMediaType string
}

// Config controls size ceilings. Zero values fall back to the documented defaults.
type Config struct {
	MaxAttachmentSize int64
	MaxBlobSize       int64
}

const (
	defaultMaxAttachmentSize = 25 * 1024 * 1024
	defaultMaxBlobSize       = 100 * 1024 * 1024
)

// maxNestingRecursionDepth bounds the recursive unpacking work itself, kept
// comfortably above the reject threshold in CheckNestingDepth so a chain
// deeper than that threshold is still measured accurately instead of being
// truncated right at the boundary it needs to exceed.
const maxNestingRecursionDepth = 6

// hardBlockedExtensions append .txt to neutralize dangerous filenames.
var hardBlockedExtensions = map[string]bool{
	"exe": true, "scr": true, "com": true, "vbs": true, "js": true,
	"cmd": true, "bat": true, "pif": true, "jar": true, "app": true,
	"dmg": true, "pkg": true, "deb": true, "rpm": true,
}

var filenameSanitizeRe = regexp.MustCompile(`[^A-Za-z0-9_\-.]`)

// Scanner is the built-in, backend-free security scanner.
type Scanner struct {
	cfg Config
}

// New constructs a Scanner, filling in documented defaults for zero values.
func New(cfg Config) *Scanner {
	if cfg.MaxAttachmentSize <= 0 {
		cfg.MaxAttachmentSize = defaultMaxAttachmentSize
	}
	if cfg.MaxBlobSize <= 0 {
		cfg.MaxBlobSize = defaultMaxBlobSize
	}
	return &Scanner{cfg: cfg}
}

// Scan inspects content for threats before it is handed to the blob store.
func (s *Scanner) Scan(content []byte, declaredMediaType, filename string) Result {
	if int64(len(content)) > s.cfg.MaxBlobSize {
		return Result{Status: StatusInfected, ThreatName: "size-ceiling-exceeded", EffectiveMediaType: declaredMediaType}
	}

	sniffed := sniffMagic(content)
	effectiveMediaType := declaredMediaType
	if sniffed == "application/x-msdownload" && declaredMediaType != sniffed {
		effectiveMediaType = "application/octet-stream"
	}

	if uncompressed, compressed, ok := archiveDeclaredSizes(content, sniffed); ok && CheckDeclaredRatio(uncompressed, compressed) {
		return Result{Status: StatusInfected, ThreatName: "archive-ratio-exceeded", EffectiveMediaType: effectiveMediaType}
	}

	if sniffed == "application/zip" {
		if depth := zipNestingDepth(content, 0); CheckNestingDepth(depth) {
			return Result{Status: StatusInfected, ThreatName: "archive-nesting-exceeded", EffectiveMediaType: effectiveMediaType}
		}
	}

	return Result{Status: StatusClean, EffectiveMediaType: effectiveMediaType}
}

// magic number prefixes for the formats the scanner must recognize.
var magicSignatures = []struct {
	prefix    []byte
	mediaType string
}{
	{[]byte("PK\x03\x04"), "application/zip"},
	{[]byte("Rar!\x1a\x07"), "application/x-rar-compressed"},
	{[]byte{0x1f, 0x8b}, "application/gzip"},
	{[]byte("BZh"), "application/x-bzip2"},
	{[]byte{0x37, 0x7a, 0xbc, 0xaf, 0x27, 0x1c}, "application/x-7z-compressed"},
	{[]byte{0x4d, 0x5a}, "application/x-msdownload"}, // PE (MZ header)
	{[]byte{0xff, 0xd8, 0xff}, "image/jpeg"},
	{[]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, "image/png"},
	{[]byte("%PDF"), "application/pdf"},
}

func sniffMagic(content []byte) string {
	for _, sig := range magicSignatures {
		if bytes.HasPrefix(content, sig.prefix) {
			return sig.mediaType
		}
	}
	return ""
}

// archiveDeclaredSizes extracts the uncompressed and compressed sizes a
// recognized archive format declares about itself, with no external caller
// input: the zip central directory's per-entry sizes, or gzip's trailing
// 4-byte ISIZE field. Formats that don't expose a cheap declared size
// (bzip2, 7z, rar) report ok=false rather than guessing.
func archiveDeclaredSizes(content []byte, sniffed string) (uncompressed, compressed int64, ok bool) {
	switch sniffed {
	case "application/zip":
		return zipDeclaredSizes(content)
	case "application/gzip":
		return gzipDeclaredSizes(content)
	default:
		return 0, 0, false
	}
}

func zipDeclaredSizes(content []byte) (int64, int64, bool) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, 0, false
	}
	var uncompressed, compressed uint64
	for _, f := range r.File {
		uncompressed += f.UncompressedSize64
		compressed += f.CompressedSize64
	}
	if compressed == 0 {
		return 0, 0, false
	}
	return int64(uncompressed), int64(compressed), true
}

// gzipDeclaredSizes reads the last 4 bytes of a gzip stream: the ISIZE field,
// the uncompressed size modulo 2^32. On-wire length stands in for the
// compressed size.
func gzipDeclaredSizes(content []byte) (int64, int64, bool) {
	const gzipMinSize = 18 // 10-byte header + at least one deflate byte + 8-byte trailer
	if len(content) < gzipMinSize {
		return 0, 0, false
	}
	isize := binary.LittleEndian.Uint32(content[len(content)-4:])
	return int64(isize), int64(len(content)), true
}

var nestedArchiveExtensions = map[string]bool{
	"zip": true, "rar": true, "gz": true, "bz2": true, "7z": true, "tar": true,
}

func hasArchiveExtension(name string) bool {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return false
	}
	return nestedArchiveExtensions[strings.ToLower(name[idx+1:])]
}

const maxNestedPeekBytes = 4 << 20 // cap bytes decompressed per nesting level

// zipNestingDepth walks zip entries whose name suggests a nested archive,
// decompressing a bounded prefix of each to check whether it is itself a
// zip, up to maxNestingRecursionDepth levels.
func zipNestingDepth(content []byte, depth int) int {
	if depth >= maxNestingRecursionDepth {
		return depth
	}
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return depth
	}
	deepest := depth
	for _, f := range r.File {
		if !hasArchiveExtension(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		inner, err := io.ReadAll(io.LimitReader(rc, maxNestedPeekBytes))
		rc.Close()
		if err != nil {
			continue
		}
		childDepth := depth + 1
		if sniffMagic(inner) == "application/zip" {
			childDepth = zipNestingDepth(inner, depth+1)
		}
		if childDepth > deepest {
			deepest = childDepth
		}
	}
	return deepest
}

// CheckDeclaredRatio applies the archive heuristic using a server-reported
// uncompressed size, when available (e.g. from a ZIP central directory entry
// the caller has already parsed).
func CheckDeclaredRatio(uncompressedSize, compressedSize int64) bool {
	if compressedSize <= 0 {
		return false
	}
	ratio := float64(uncompressedSize) / float64(compressedSize)
	return ratio > 100
}

// CheckNestingDepth rejects archives nested more than 3 levels deep.
func CheckNestingDepth(depth int) bool {
	return depth > 3
}

// SanitizeFilename strips path components, replaces disallowed characters,
// truncates to 255 bytes while preserving the extension, and neutralizes
// hard-blocked executable extensions by appending .txt.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		name = "unnamed"
	}

	name = filenameSanitizeRe.ReplaceAllString(name, "_")

	ext := ""
	base := name
	if idx := strings.LastIndex(name, "."); idx > 0 {
		ext = strings.ToLower(name[idx+1:])
		base = name[:idx]
	}

	if hardBlockedExtensions[ext] {
		name = base + "." + ext + ".txt"
		ext = "txt"
	}

	if len(name) > 255 {
		overflow := len(name) - 255
		if len(base) > overflow {
			base = base[:len(base)-overflow]
		}
		if ext != "" {
			name = base + "." + ext
		} else {
			name = base
		}
	}

	return name
}
