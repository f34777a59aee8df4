package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/strategy"
)

func newPackagesCmd(opts []app.Option) *cobra.Command {
	var (
		output     string
		expansions bool
		splits     bool
	)
	cmd := &cobra.Command{
		Use:   "packages input",
		Short: "Download the packages of every input item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := strategy.LoadIDs(args[0])
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts, output, func(ctx context.Context, a *app.App) error {
				packages, err := strategy.NewPackages(a.Engine(), a.Blobs(), strategy.PackagesConfig{
					Output:     output,
					Expansions: expansions,
					Splits:     splits,
				}, a.Logger())
				if err != nil {
					return err
				}
				report, err := packages.Run(ctx, in)
				if err != nil {
					return fmt.Errorf("packages crawl: %w", err)
				}
				a.Logger().Info("packages finished", zap.String("output", output), zap.Int("done", len(report.Done)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "out_packages", "directory of the downloaded files")
	cmd.Flags().BoolVar(&expansions, "expansions", false, "also download expansion files")
	cmd.Flags().BoolVar(&splits, "splits", false, "also download split files")
	return cmd
}
