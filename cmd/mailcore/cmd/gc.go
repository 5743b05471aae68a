package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelmail/mailcore/internal/blobstore"
	"github.com/kestrelmail/mailcore/internal/rendercache"
	"github.com/kestrelmail/mailcore/internal/store"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim zero-refcount blobs and stale render cache rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.DatabaseDSN())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		blobs, err := blobstore.Open(cfg.BlobBaseDir(), s, logger)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}

		removedBlobs, err := blobs.GC()
		if err != nil {
			return fmt.Errorf("blob gc: %w", err)
		}

		cache := rendercache.New(s, rendercache.Config{GeneratorVersion: cfg.RenderCache.GeneratorVersion})
		expireAfter := time.Duration(cfg.RenderCache.ExpirationDays) * 24 * time.Hour
		removedRows, err := cache.InvalidateOlderThanAge(expireAfter)
		if err != nil {
			return fmt.Errorf("render cache gc: %w", err)
		}

		fmt.Printf("Removed %d orphaned blob(s)\n", removedBlobs)
		fmt.Printf("Removed %d stale render cache row(s)\n", removedRows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
}
