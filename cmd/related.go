package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/strategy"
)

func newRelatedCmd(opts []app.Option) *cobra.Command {
	var (
		output string
		level  int
	)
	cmd := &cobra.Command{
		Use:   "related [input]",
		Short: "Walk related items breadth first from the ids of an input file",
		Long: `related reads seed ids from input (a charts listing, a JSON list of ids or
a checkpoint; default charts.json) and follows the related-items streams of
every item, level by level, up to --level.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "charts.json"
			if len(args) == 1 {
				path = args[0]
			}
			in, err := strategy.LoadIDs(path)
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts, output, func(ctx context.Context, a *app.App) error {
				cfg := a.Config()
				related, err := strategy.NewRelated(a.Engine(), a.Edges(), strategy.RelatedConfig{
					Output:          output,
					Depth:           level,
					Workers:         cfg.Crawler.Workers,
					CheckpointEvery: cfg.Crawler.CheckpointEvery,
				}, a.Logger())
				if err != nil {
					return err
				}
				report, err := related.Run(ctx, in)
				if err != nil {
					return fmt.Errorf("related crawl: %w", err)
				}
				a.Logger().Info("related finished",
					zap.Int("level", report.Level),
					zap.Int("done", len(report.Done)),
					zap.Int("ids", len(report.IDs)),
					zap.Bool("already_complete", report.AlreadyComplete))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "ids_related", "checkpoint base name")
	cmd.Flags().IntVar(&level, "level", 3, "how many levels deep to crawl")
	return cmd
}
