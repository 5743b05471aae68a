// Package pipeline orchestrates the end-to-end processing of one fetched
// message: cache probe, size guard, raw persist, MIME parse, secure-part
// detection, body selection, attachment processing, HTML finalization,
// and render-cache materialization.
package pipeline

import (
	"fmt"
	"time"

	"github.com/kestrelmail/mailcore/internal/blobstore"
	"github.com/kestrelmail/mailcore/internal/bodyselector"
	"github.com/kestrelmail/mailcore/internal/eventbus"
	"github.com/kestrelmail/mailcore/internal/htmlsanitize"
	"github.com/kestrelmail/mailcore/internal/mailerrors"
	"github.com/kestrelmail/mailcore/internal/mime"
	"github.com/kestrelmail/mailcore/internal/recovery"
	"github.com/kestrelmail/mailcore/internal/rendercache"
	"github.com/kestrelmail/mailcore/internal/scanner"
	"github.com/kestrelmail/mailcore/internal/securepart"
	"github.com/kestrelmail/mailcore/internal/store"
)

// Status is a processing task's current stage in its state machine.
type Status string

const (
	StatusPending        Status = "pending"
	StatusFetching       Status = "fetching"
	StatusParsing        Status = "parsing"
	StatusScanning       Status = "scanning"
	StatusRendering      Status = "rendering"
	StatusCompleted      Status = "completed"
	StatusPartialSuccess Status = "partialSuccess"
	StatusFailed         Status = "failed"
)

// Config bounds and policy the pipeline applies while processing a message.
type Config struct {
	MaxRawSizeBytes  int64
	WarnRawSizeBytes int64
	MaxBlobSize      int64
	GeneratorVersion int
	Security         htmlsanitize.Policy
}

// Input is one message ready for processing.
type Input struct {
	MessageID string
	AccountID string
	Mailbox   string
	UID       uint32
	RawBytes  []byte
}

// Summary is the pipeline's terminal result for one message.
type Summary struct {
	MessageID        string
	Status           Status
	BytesStored      int64
	AttachmentCount  int
	SecurePartsCount int
	Duration         time.Duration
	Errors           []string
	Warnings         []string
	FromCache        bool
}

// Pipeline wires together every collaborator C7 orchestrates.
type Pipeline struct {
	Store    *store.Store
	Blobs    *blobstore.Store
	Cache    *rendercache.Cache
	Scanner  *scanner.Scanner
	Recovery *recovery.Engine
	Bus      *eventbus.Bus
	Cfg      Config
}

// New constructs a Pipeline from its collaborators.
func New(st *store.Store, blobs *blobstore.Store, cache *rendercache.Cache, sc *scanner.Scanner, rec *recovery.Engine, bus *eventbus.Bus, cfg Config) *Pipeline {
	return &Pipeline{Store: st, Blobs: blobs, Cache: cache, Scanner: sc, Recovery: rec, Bus: bus, Cfg: cfg}
}

// withRecovery runs fn, and on failure consults the recovery engine for a
// contextKey-scoped retry decision, sleeping the computed backoff between
// attempts until the engine declines further retries.
func (p *Pipeline) withRecovery(contextKey string, fn func() error) error {
	if p.Recovery == nil {
		return fn()
	}
	for {
		err := fn()
		if err == nil {
			p.Recovery.RecordSuccess(contextKey)
			return nil
		}
		outcome := p.Recovery.HandleError(err, contextKey)
		if !outcome.ShouldRetry {
			return err
		}
		time.Sleep(outcome.Delay)
	}
}

func (p *Pipeline) publish(messageID string, stage, detail string) {
	if p.Bus == nil {
		return
	}
	p.Bus.Publish(eventbus.ProcessingProgress, eventbus.ProcessingEvent{
		MessageID: messageID,
		Stage:     stage,
		Detail:    detail,
	})
}

// Process runs the full pipeline for one fetched message.
func (p *Pipeline) Process(in Input) (*Summary, error) {
	start := time.Now()
	sum := &Summary{MessageID: in.MessageID}

	// 1. Cache probe.
	if p.Cache.HasValidCache(in.MessageID, p.Cfg.GeneratorVersion) {
		sum.Status = StatusCompleted
		sum.FromCache = true
		sum.Duration = time.Since(start)
		p.publish(in.MessageID, "cacheHit", "")
		return sum, nil
	}

	p.publish(in.MessageID, string(StatusFetching), "")

	// 2. Size guard.
	rawSize := int64(len(in.RawBytes))
	if p.Cfg.MaxRawSizeBytes > 0 && rawSize > p.Cfg.MaxRawSizeBytes {
		sum.Status = StatusFailed
		sum.Errors = append(sum.Errors, fmt.Sprintf("raw message size %d exceeds ceiling %d", rawSize, p.Cfg.MaxRawSizeBytes))
		sum.Duration = time.Since(start)
		return sum, mailerrors.ErrSizeExceeded
	}
	if p.Cfg.WarnRawSizeBytes > 0 && rawSize > p.Cfg.WarnRawSizeBytes {
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("raw message size %d exceeds warning threshold %d", rawSize, p.Cfg.WarnRawSizeBytes))
	}

	// 3. RAW persist.
	var rawBlobID string
	err := p.withRecovery("blobstore:store:"+in.MessageID, func() error {
		id, storeErr := p.Blobs.Store(in.RawBytes)
		if storeErr != nil {
			return storeErr
		}
		rawBlobID = id
		return nil
	})
	if err != nil {
		sum.Status = StatusFailed
		sum.Errors = append(sum.Errors, fmt.Sprintf("store raw message: %v", err))
		sum.Duration = time.Since(start)
		return sum, err
	}
	sum.BytesStored += rawSize

	insertErr := p.Store.InsertMessage(&store.MessageRecord{
		ID:        in.MessageID,
		AccountID: in.AccountID,
		Mailbox:   in.Mailbox,
		UID:       in.UID,
		RawBlobID: rawBlobID,
	})
	if insertErr != nil && insertErr != store.ErrAlreadyExists {
		sum.Status = StatusFailed
		sum.Errors = append(sum.Errors, fmt.Sprintf("insert message row: %v", insertErr))
		sum.Duration = time.Since(start)
		return sum, insertErr
	}
	if insertErr == store.ErrAlreadyExists {
		_ = p.Store.SetRawBlobID(in.MessageID, rawBlobID)
	}

	// 4. Parse.
	p.publish(in.MessageID, string(StatusParsing), "")
	parsed, err := mime.Parse(in.RawBytes)
	if err != nil {
		sum.Status = StatusFailed
		sum.Errors = append(sum.Errors, fmt.Sprintf("parse message: %v", err))
		sum.Duration = time.Since(start)
		return sum, err
	}
	sum.Errors = append(sum.Errors, parsed.Errors...)

	if err := p.Store.SetMessageMetadata(in.MessageID, parsed.Subject, parsed.GetFirstFrom().Email); err != nil {
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("set message metadata: %v", err))
	}

	// 5. Secure detection.
	p.publish(in.MessageID, string(StatusScanning), "")
	secureDetection := securepart.Detect(parsed.Parts)
	sum.SecurePartsCount = len(secureDetection.Parts)
	if sum.SecurePartsCount > 0 {
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("message contains %d secure part(s)", sum.SecurePartsCount))
	}

	// 6. Body selection.
	selection, haveBody := p.selectBody(parsed.Parts)

	// 7. Attachments.
	attachmentWarnings, attachmentCount := p.processAttachments(in.MessageID, parsed.Parts, selection, &sum.BytesStored)
	sum.Warnings = append(sum.Warnings, attachmentWarnings...)
	sum.AttachmentCount = attachmentCount

	if err := p.Store.InsertMimeParts(in.MessageID, mimePartRecords(parsed.Parts)); err != nil {
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("persist mime parts: %v", err))
	}

	// 8. HTML finalization.
	p.publish(in.MessageID, string(StatusRendering), "")
	var finalHTML, finalText string
	if haveBody {
		if selection.Part.MediaType == "text/html" {
			html, warnings := htmlsanitize.Finalize(selection.Content, in.MessageID, p.Cfg.Security)
			finalHTML = html
			sum.Warnings = append(sum.Warnings, warnings...)
		} else {
			finalText = selection.Content
		}
	}

	// 9. Cache materialize.
	cacheErr := p.withRecovery("rendercache:store:"+in.MessageID, func() error {
		return p.Cache.Store(in.MessageID, finalHTML, finalText, p.Cfg.GeneratorVersion)
	})
	if cacheErr != nil {
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("materialize render cache: %v", cacheErr))
	}

	// 10. Summary.
	sum.Duration = time.Since(start)
	switch {
	case len(sum.Errors) > 0 && !haveBody:
		sum.Status = StatusFailed
	case len(attachmentWarnings) > 0 || len(sum.Errors) > 0:
		sum.Status = StatusPartialSuccess
	default:
		sum.Status = StatusCompleted
	}

	p.publish(in.MessageID, string(sum.Status), "")
	if p.Bus != nil {
		p.Bus.Publish(eventbus.ProcessingCompleted, eventbus.ProcessingEvent{
			MessageID: in.MessageID,
			Stage:     string(sum.Status),
		})
	}

	return sum, nil
}

func (p *Pipeline) selectBody(parts []mime.MimePart) (bodyselector.Selection, bool) {
	var candidates []bodyselector.Candidate
	for _, part := range parts {
		if !part.IsBodyCandidate {
			continue
		}
		candidates = append(candidates, bodyselector.Candidate{Part: part, Content: string(part.Content)})
	}
	return bodyselector.Select(candidates, bodyselector.Smart)
}

// processAttachments persists every non-body part with non-zero size as an
// attachment row, scanning and storing it through the blob store. Returns
// per-part warnings and the number of attachments processed.
func (p *Pipeline) processAttachments(messageID string, parts []mime.MimePart, selection bodyselector.Selection, bytesStored *int64) ([]string, int) {
	var warnings []string
	count := 0

	for _, part := range parts {
		if part.IsBodyCandidate {
			continue
		}
		if part.SizeOctets == 0 || len(part.Content) == 0 {
			continue
		}

		result := p.Scanner.Scan(part.Content, part.MediaType, part.FilenameNormalized)
		switch result.Status {
		case scanner.StatusInfected:
			warnings = append(warnings, fmt.Sprintf("attachment %s skipped: %s", part.PartID, result.ThreatName))
			continue
		case scanner.StatusScanError:
			warnings = append(warnings, fmt.Sprintf("attachment %s: scan error, treated as pending", part.PartID))
		}

		blobID, err := p.Blobs.StoreSafe(part.Content, p.Cfg.MaxBlobSize)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("attachment %s: store failed: %v", part.PartID, err))
			continue
		}
		*bytesStored += int64(len(part.Content))

		isInline := part.Disposition == "inline" || part.ContentID != ""
		filename := part.FilenameNormalized
		if filename == "" {
			filename = scanner.SanitizeFilename(part.FilenameRaw)
		}

		rec := &store.AttachmentRecord{
			MessageID:        messageID,
			PartID:           part.PartID,
			Filename:         filename,
			MediaType:        result.EffectiveMediaType,
			StorageKey:       blobID,
			ContentID:        part.ContentID,
			Disposition:      part.Disposition,
			SizeBytes:        int64(len(part.Content)),
			InlineReferenced: isInline,
			VirusScanStatus:  string(result.Status),
		}
		if _, err := p.Store.InsertAttachment(rec); err != nil && err != store.ErrAlreadyExists {
			warnings = append(warnings, fmt.Sprintf("attachment %s: persist failed: %v", part.PartID, err))
			continue
		}
		count++
	}

	return warnings, count
}

func mimePartRecords(parts []mime.MimePart) []store.MimePartRecord {
	out := make([]store.MimePartRecord, 0, len(parts))
	for _, p := range parts {
		out = append(out, store.MimePartRecord{
			PartID:             p.PartID,
			ParentPartID:       p.Parent,
			MediaType:          p.MediaType,
			Charset:            p.Charset,
			TransferEncoding:   p.TransferEncoding,
			Disposition:        p.Disposition,
			FilenameRaw:        p.FilenameRaw,
			FilenameNormalized: p.FilenameNormalized,
			ContentID:          p.ContentID,
			SizeOctets:         p.SizeOctets,
			IsBodyCandidate:    p.IsBodyCandidate,
		})
	}
	return out
}
