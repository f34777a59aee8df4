package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/strategy"
)

func newSearchCmd(opts []app.Option) *cobra.Command {
	var (
		output   string
		length   int
		alphabet string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search every term of a fixed length and collect the item ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts, output, func(ctx context.Context, a *app.App) error {
				search, err := strategy.NewSearch(a.Engine(), strategy.SearchConfig{
					Output:          output,
					Length:          length,
					Alphabet:        alphabet,
					CheckpointEvery: a.Config().Crawler.CheckpointEvery,
				}, a.Logger())
				if err != nil {
					return err
				}
				report, err := search.Run(ctx)
				if err != nil {
					return fmt.Errorf("search crawl: %w", err)
				}
				a.Logger().Info("search finished",
					zap.Int("terms", len(report.Done)),
					zap.Int("ids", len(report.IDs)),
					zap.Bool("already_complete", report.AlreadyComplete))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "ids_search.json", "checkpoint base name")
	cmd.Flags().IntVar(&length, "length", 2, "length of the search terms")
	cmd.Flags().StringVar(&alphabet, "alphabet", strategy.DefaultAlphabet, "characters search terms are built from")
	return cmd
}
