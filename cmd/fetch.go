package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/resolve"
)

func newFetchCmd() *cobra.Command {
	var (
		overrideURL string
		modeFlag    string
		save        bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <item-id>",
		Short: "Resolves preview candidates for one item",
		Long: `Runs the resolution engine against an item's stored link (or --url) and
prints the discovered candidates. With --save the candidate set replaces
the item's stored previews.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			mode, err := resolve.ParseMode(modeFlag)
			if err != nil {
				return err
			}

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

			if save {
				item, count, err := deps.svc.ResolveAndSave(cmd.Context(), itemID, overrideURL, mode)
				if err != nil {
					return fmt.Errorf("resolve and save: %w", err)
				}
				logger.Info("previews saved",
					zap.Int64("item_id", item.ID), zap.Int("count", count), zap.String("mode", string(mode)))
				return nil
			}

			_, candidates, err := deps.svc.ResolvePreview(cmd.Context(), itemID, overrideURL, mode)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			type report struct {
				URL         string `json:"url"`
				Size        int    `json:"size"`
				ContentType string `json:"content_type"`
				Strategy    string `json:"strategy"`
			}
			out := make([]report, 0, len(candidates))
			for _, c := range candidates {
				out = append(out, report{URL: c.URL, Size: len(c.Data), ContentType: c.ContentType, Strategy: c.Strategy})
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&overrideURL, "url", "", "override URL to resolve instead of the item's link")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "resolve mode: direct-scrape (default), api, rendered")
	cmd.Flags().BoolVar(&save, "save", false, "persist the candidates as the item's preview set")
	return cmd
}
