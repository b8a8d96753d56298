// File: cmd/snapshot.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
)

func newSnapshotCmd() *cobra.Command {
	var output string
	snapshotCmd := &cobra.Command{
		Use:   "snapshot <url>",
		Short: "Captures a live page and its same-origin frames as a snapshot file",
		Long: `Captures a live page in Chrome and writes its frame tree as JSON. The file
can be passed to run and serve with --page for offline replays.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if !isLiveURL(args[0]) {
				return fmt.Errorf("snapshot needs an http(s) URL, got %q", args[0])
			}
			logger := observability.GetLogger()
			snap, err := snapshotPage(cmd.Context(), cfg.Browser(), args[0], logger)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return writeJSON(cmd, snap, true)
			}
			raw, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode snapshot: %w", err)
			}
			if err := os.WriteFile(output, raw, 0o644); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			logger.Info("Snapshot written.", zap.String("path", output))
			return nil
		},
	}
	snapshotCmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	snapshotCmd.Flags().Bool("headless", true, "run Chrome headless")
	return snapshotCmd
}
