package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/importer"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Imports per-source JSON files into the catalog",
		Long: `Reads every *.json file in the directory and upserts its entries keyed by
(external_id, source). The source tag is the file name without extension,
so twitter.json items get source "twitter". Re-running is idempotent.`,
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

			imp := importer.New(deps.items, logger.Named("import"))
			summary, err := imp.ImportDir(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			for _, f := range summary.Files {
				logger.Info("file imported",
					zap.String("path", f.Path), zap.String("source", f.Source),
					zap.Int("created", f.Created), zap.Int("updated", f.Updated), zap.Int("errors", f.Errors))
			}
			logger.Info("import summary",
				zap.Int("files", len(summary.Files)),
				zap.Int("created", summary.Created),
				zap.Int("updated", summary.Updated),
				zap.Int("errors", summary.Errors))
			return nil
		},
	}
}
