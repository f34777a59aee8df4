package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/strategy"
)

func newChartsCmd(opts []app.Option) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "charts",
		Short: "List every chart of every category in parallel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts, strategy.NameCharts, func(ctx context.Context, a *app.App) error {
				charts, err := strategy.NewCharts(a.Sessions(), a.Blobs(), strategy.ChartsConfig{Output: output}, a.Logger())
				if err != nil {
					return err
				}
				listing, err := charts.Run(ctx)
				if err != nil {
					return fmt.Errorf("charts crawl: %w", err)
				}
				a.Logger().Info("charts written", zap.String("output", output), zap.Int("ids", len(listing.IDs())))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "charts.json", "object path of the chart listing")
	return cmd
}
