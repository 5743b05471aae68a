package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelmail/mailcore/internal/blobstore"
	"github.com/kestrelmail/mailcore/internal/eventbus"
	"github.com/kestrelmail/mailcore/internal/htmlsanitize"
	"github.com/kestrelmail/mailcore/internal/pipeline"
	"github.com/kestrelmail/mailcore/internal/recovery"
	"github.com/kestrelmail/mailcore/internal/rendercache"
	"github.com/kestrelmail/mailcore/internal/scanner"
	"github.com/kestrelmail/mailcore/internal/store"
)

var (
	ingestAccountID string
	ingestMailbox   string
	ingestUID       uint32
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <eml-file>",
	Short: "Run a raw RFC822 message through the processing pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		s, err := store.Open(cfg.DatabaseDSN())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()
		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		blobs, err := blobstore.Open(cfg.BlobBaseDir(), s, logger)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}

		cache := rendercache.New(s, rendercache.Config{
			MaxMemoryItems:        cfg.RenderCache.MemoryItemCap,
			MaxMemoryBytes:        cfg.RenderCache.MemoryByteCap,
			CompressionThresholdB: cfg.RenderCache.CompressionThreshold,
			ExpirationDays:        cfg.RenderCache.ExpirationDays,
			GeneratorVersion:      cfg.RenderCache.GeneratorVersion,
		})

		sc := scanner.New(scanner.Config{
			MaxAttachmentSize: cfg.Security.MaxAttachmentSizeBytes,
			MaxBlobSize:       cfg.Security.MaxBlobSizeBytes,
		})

		rec := recovery.New(recovery.Config{
			MaxRetries:       cfg.Recovery.MaxRetries,
			BaseDelay:        cfg.RecoveryBaseDelay(),
			MaxDelay:         cfg.RecoveryMaxDelay(),
			Multiplier:       cfg.Recovery.Multiplier,
			Jitter:           cfg.Recovery.JitterFraction,
			BreakerThreshold: cfg.Recovery.BreakerThreshold,
			BreakerTimeout:   cfg.RecoveryBreakerTimeout(),
		})

		bus := eventbus.New()
		bus.Subscribe(eventbus.ProcessingProgress, func(ev eventbus.ProcessingEvent) {
			logger.Debug("processing event", "message_id", ev.MessageID, "stage", ev.Stage, "detail", ev.Detail)
		})

		p := pipeline.New(s, blobs, cache, sc, rec, bus, pipeline.Config{
			MaxRawSizeBytes:  cfg.Security.MaxBlobSizeBytes,
			WarnRawSizeBytes: cfg.Security.MaxBlobSizeBytes / 2,
			MaxBlobSize:      cfg.Security.MaxBlobSizeBytes,
			GeneratorVersion: cfg.RenderCache.GeneratorVersion,
			Security: htmlsanitize.Policy{
				AllowExternalImages:      cfg.Security.AllowExternalImages,
				AllowExternalStylesheets: cfg.Security.AllowExternalStylesheets,
				AllowInlineStyles:        cfg.Security.AllowInlineStyles,
				AllowIframes:             cfg.Security.AllowIframes,
				AllowForms:               cfg.Security.AllowForms,
				ProxyExternalContent:     cfg.Security.ProxyExternalContent,
				EnforceCSP:               cfg.Security.EnforceCSP,
			},
		})

		messageID := fmt.Sprintf("%s-%s-%d-%d", ingestAccountID, ingestMailbox, ingestUID, time.Now().UnixNano())
		summary, err := p.Process(pipeline.Input{
			MessageID: messageID,
			AccountID: ingestAccountID,
			Mailbox:   ingestMailbox,
			UID:       ingestUID,
			RawBytes:  raw,
		})
		if err != nil {
			return fmt.Errorf("process message: %w", err)
		}

		fmt.Printf("Message:     %s\n", summary.MessageID)
		fmt.Printf("Status:      %s\n", summary.Status)
		fmt.Printf("Attachments: %d\n", summary.AttachmentCount)
		fmt.Printf("Secure parts: %d\n", summary.SecurePartsCount)
		fmt.Printf("Bytes stored: %d\n", summary.BytesStored)
		fmt.Printf("Duration:    %s\n", summary.Duration)
		for _, w := range summary.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		for _, e := range summary.Errors {
			fmt.Printf("  error: %s\n", e)
		}

		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestAccountID, "account", "local", "account identifier to attribute this message to")
	ingestCmd.Flags().StringVar(&ingestMailbox, "mailbox", "INBOX", "mailbox name to attribute this message to")
	ingestCmd.Flags().Uint32Var(&ingestUID, "uid", 0, "source-local UID to attribute this message to")
	rootCmd.AddCommand(ingestCmd)
}
