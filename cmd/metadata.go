package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/strategy"
)

func newMetadataCmd(opts []app.Option) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "metadata input",
		Short: "Download the detail document of every input item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := strategy.LoadIDs(args[0])
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts, output, func(ctx context.Context, a *app.App) error {
				metadata, err := strategy.NewMetadata(a.Engine(), a.Blobs(), strategy.MetadataConfig{Output: output}, a.Logger())
				if err != nil {
					return err
				}
				report, err := metadata.Run(ctx, in)
				if err != nil {
					return fmt.Errorf("metadata crawl: %w", err)
				}
				a.Logger().Info("metadata finished", zap.String("output", output), zap.Int("done", len(report.Done)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "out_metadata", "directory of the metadata documents")
	return cmd
}
