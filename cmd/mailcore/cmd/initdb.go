package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelmail/mailcore/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the metadata database schema",
	Long: `Creates every table the content store needs (messages, mime_parts,
attachments, render_cache, blob_metadata). Safe to run multiple times —
tables are only created if they don't already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabaseDSN()
		logger.Info("initializing database", "path", dbPath)

		s, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		logger.Info("database initialized")
		fmt.Printf("Database initialized: %s\n", dbPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
