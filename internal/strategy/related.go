package strategy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// EdgeSink records which items the catalog lists as related to an item.
type EdgeSink interface {
	AddEdges(ctx context.Context, from string, to []string) error
}

// RelatedConfig controls the related crawl.
type RelatedConfig struct {
	// Output is the checkpoint base name (default related).
	Output string
	// Depth is the last level crawled; seeds are level 0 (default 3).
	Depth int
	// Workers scales the tmp snapshot cadence.
	Workers int
	// CheckpointEvery is multiplied by Workers to get the number of
	// completions between tmp snapshots (default 100).
	CheckpointEvery int
}

// Related walks the related-items graph breadth first.
type Related struct {
	runner Runner
	edges  EdgeSink
	cfg    RelatedConfig
	logger *zap.Logger
}

// NewRelated builds the related strategy. edges may be nil.
func NewRelated(runner Runner, edges EdgeSink, cfg RelatedConfig, logger *zap.Logger) (*Related, error) {
	if runner == nil {
		return nil, errors.New("related strategy requires a runner")
	}
	cfg.Output = baseName(cfg.Output)
	if cfg.Output == "" {
		cfg.Output = NameRelated
	}
	if cfg.Depth < 0 {
		return nil, fmt.Errorf("invalid related depth %d", cfg.Depth)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Related{runner: runner, edges: edges, cfg: cfg, logger: logger.Named(NameRelated)}, nil
}

// Run crawls from the seeds of in.
func (r *Related) Run(ctx context.Context, in Input) (crawler.Report, error) {
	seeds := in.Seeds()
	if len(seeds) == 0 {
		return crawler.Report{}, fmt.Errorf("%w: no seed ids", ErrInput)
	}
	r.logger.Info("related crawl seeded", zap.Int("seeds", len(seeds)), zap.String("format", string(in.Format)), zap.Int("depth", r.cfg.Depth))
	return r.runner.Run(ctx, crawler.Job{
		Strategy:        NameRelated,
		Name:            r.cfg.Output,
		Seeds:           seeds,
		Depth:           r.cfg.Depth,
		CheckpointEvery: r.cfg.CheckpointEvery * r.cfg.Workers,
		Processor:       crawler.ProcessorFunc(r.process),
	})
}

func (r *Related) process(ctx context.Context, exec *crawler.Exec, item string) (crawler.Result, error) {
	fetch := func(ctx context.Context, q catalog.RelatedQuery) (crawler.Page, error) {
		var page catalog.RelatedPage
		err := exec.Do(ctx, func(sess catalog.Session) error {
			var err error
			page, err = sess.RelatedPage(ctx, q)
			return err
		})
		return relatedPage(page), err
	}
	first, err := fetch(ctx, catalog.RelatedQuery{ItemID: item})
	if err != nil {
		return crawler.Result{}, err
	}
	ids, err := crawler.Paginate(ctx, r.logger, first, func(ctx context.Context, cursor string) (crawler.Page, error) {
		return fetch(ctx, catalog.RelatedQuery{Cursor: cursor})
	})
	if err != nil {
		return crawler.Result{}, err
	}
	if r.edges != nil && len(ids) > 0 {
		if err := r.edges.AddEdges(ctx, item, crawler.NewSet(ids...).Sorted()); err != nil {
			r.logger.Warn("recording related edges failed", zap.String("item", item), zap.Error(err))
		}
	}
	return crawler.Result{IDs: ids}, nil
}

func relatedPage(p catalog.RelatedPage) crawler.Page {
	var page crawler.Page
	for _, stream := range p.Streams {
		page.IDs = append(page.IDs, stream.Items...)
		page.Next = append(page.Next, stream.NextCursor)
	}
	return page
}
