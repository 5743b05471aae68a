package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelmail/mailcore/internal/blobstore"
	"github.com/kestrelmail/mailcore/internal/httpapi"
	"github.com/kestrelmail/mailcore/internal/rendercache"
	"github.com/kestrelmail/mailcore/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP surface over the content store",
	Long: `Serves rendered message bodies, inline cid attachments, and raw
attachment downloads over a local HTTP API. Use Ctrl+C to stop.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
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

	server := httpapi.New(cfg, s, blobs, cache, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("mailcore daemon started\n")
	fmt.Printf("  HTTP surface: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-serverErr:
		logger.Error("httpapi server error", "error", err)
		fmt.Printf("\nhttpapi server error: %v\n", err)
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("httpapi server shutdown error", "error", err)
	}

	fmt.Println("Shutdown complete.")
	return nil
}
