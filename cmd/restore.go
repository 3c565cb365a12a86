package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/importer"
)

func newRestoreCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "restore <fixture.json>",
		Short: "Restores preview blobs from a database fixture dump",
		Long: `Reconciles a fixture dump with the current catalog and re-creates the
preview rows it contains. Items are matched by recovery heuristics
(external id and source, then link, then title and artist); entries that
match more than one item are skipped rather than guessed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			deps, err := buildServices(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.cleanup()

			restorer := importer.NewRestorer(deps.items, deps.previews, deps.legacy, logger.Named("restore"))
			report, err := restorer.Restore(cmd.Context(), args[0], dryRun)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			logger.Info("restore complete",
				zap.Bool("dry_run", dryRun),
				zap.Int("restored_previews", report.RestoredPreviews),
				zap.Int("restored_legacy", report.RestoredLegacy),
				zap.Int("skipped_missing", report.SkippedMissing),
				zap.Int("ambiguous", report.Ambiguous))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be restored without writing")
	return cmd
}
