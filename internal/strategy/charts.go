package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// Default chart selection.
var (
	DefaultCategories = []string{"APPLICATION", "GAME"}
	DefaultCharts     = []string{"apps_topselling_free", "apps_topselling_paid", "apps_topgrossing", "apps_movers_shakers"}
)

// ChartListing maps category -> chart -> ranked ids. Ids are kept in chart
// order and are not deduplicated across charts.
type ChartListing map[string]map[string][]string

// IDs returns the union of every chart, sorted.
func (l ChartListing) IDs() []string {
	set := crawler.NewSet()
	for _, charts := range l {
		for _, ids := range charts {
			for _, id := range ids {
				if id != "" {
					set.Add(id)
				}
			}
		}
	}
	return set.Sorted()
}

// ChartsConfig selects the charts to list and where to write them.
type ChartsConfig struct {
	// Output is the object path of the listing (default charts.json).
	Output     string
	Categories []string
	Charts     []string
	// PageBackoff is the first wait before retrying a timed out page
	// (default 1s); it doubles up to PageMaxBackoff (default 30s).
	// Timeouts are retried until the context ends.
	PageBackoff    time.Duration
	PageMaxBackoff time.Duration
	// Respawns is how often a crashed chart task is restarted with a new
	// session before its partial result is kept. 0 selects 2; a negative
	// value disables restarts.
	Respawns int
}

// Charts lists every (category, chart) pair concurrently, one session per
// pair.
type Charts struct {
	sessions *crawler.SessionManager
	blobs    storage.BlobStore
	cfg      ChartsConfig
	logger   *zap.Logger
}

// NewCharts builds the charts strategy.
func NewCharts(sessions *crawler.SessionManager, blobs storage.BlobStore, cfg ChartsConfig, logger *zap.Logger) (*Charts, error) {
	if sessions == nil {
		return nil, errors.New("charts strategy requires a session manager")
	}
	if blobs == nil {
		return nil, errors.New("charts strategy requires a blob store")
	}
	if cfg.Output == "" {
		cfg.Output = "charts.json"
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories
	}
	if len(cfg.Charts) == 0 {
		cfg.Charts = DefaultCharts
	}
	if cfg.PageBackoff <= 0 {
		cfg.PageBackoff = time.Second
	}
	if cfg.PageMaxBackoff < cfg.PageBackoff {
		cfg.PageMaxBackoff = max(30*time.Second, cfg.PageBackoff)
	}
	if cfg.Respawns < 0 {
		cfg.Respawns = 0
	} else if cfg.Respawns == 0 {
		cfg.Respawns = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Charts{sessions: sessions, blobs: blobs, cfg: cfg, logger: logger.Named(NameCharts)}, nil
}

// ErrChartsFailed is returned when no chart could be listed.
var ErrChartsFailed = errors.New("every chart failed")

// Run fetches every chart and writes the listing. A chart task that keeps
// crashing is logged and contributes the ids it gathered; the other charts
// are written regardless. Nothing is written when the context ends or when
// every chart failed.
func (c *Charts) Run(ctx context.Context) (ChartListing, error) {
	listing := make(ChartListing, len(c.cfg.Categories))
	for _, category := range c.cfg.Categories {
		listing[category] = make(map[string][]string, len(c.cfg.Charts))
	}
	var (
		mu     sync.Mutex
		failed []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, category := range c.cfg.Categories {
		for _, chart := range c.cfg.Charts {
			g.Go(func() error {
				ids, err := c.listChart(gctx, category, chart)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed = append(failed, category+"/"+chart)
					if len(ids) == 0 {
						return nil
					}
				}
				listing[category][chart] = ids
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(failed) == len(c.cfg.Categories)*len(c.cfg.Charts) && len(listing.IDs()) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrChartsFailed, failed)
	}
	if len(failed) > 0 {
		c.logger.Warn("some charts are incomplete", zap.Strings("charts", failed))
	}

	data, err := json.MarshalIndent(listing, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal charts: %w", err)
	}
	uri, err := c.blobs.PutObject(ctx, c.cfg.Output, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("write charts: %w", err)
	}
	c.logger.Info("charts written", zap.String("uri", uri), zap.Int("ids", len(listing.IDs())))
	return listing, nil
}

// listChart runs the task of one chart, restarting it after a crash. It
// returns the longest partial listing seen when every attempt failed.
func (c *Charts) listChart(ctx context.Context, category, chart string) ([]string, error) {
	var (
		best    []string
		lastErr error
	)
	for attempt := 0; attempt <= c.cfg.Respawns; attempt++ {
		ids, err := c.safeFetchChart(ctx, category, chart)
		if err == nil {
			c.logger.Info("chart listed",
				zap.String("category", category),
				zap.String("chart", chart),
				zap.Int("ids", len(ids)))
			return ids, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if len(ids) > len(best) {
			best = ids
		}
		lastErr = err
		c.logger.Warn("chart task crashed",
			zap.String("category", category),
			zap.String("chart", chart),
			zap.Int("attempt", attempt+1),
			zap.Int("partial_ids", len(ids)),
			zap.Error(err))
	}
	c.logger.Error("chart abandoned, keeping partial result",
		zap.String("category", category),
		zap.String("chart", chart),
		zap.Int("ids", len(best)),
		zap.Error(lastErr))
	return best, fmt.Errorf("chart %s/%s: %w", category, chart, lastErr)
}

func (c *Charts) safeFetchChart(ctx context.Context, category, chart string) (ids []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("chart task panic: %v", rec)
		}
	}()
	return c.fetchChart(ctx, category, chart)
}

func (c *Charts) fetchChart(ctx context.Context, category, chart string) ([]string, error) {
	exec, err := c.sessions.Exec(ctx, category+"/"+chart)
	if err != nil {
		return nil, err
	}
	defer exec.Close()

	fetch := func(ctx context.Context, cursor string) (crawler.Page, error) {
		var cluster catalog.Cluster
		err := c.withRetry(ctx, func(ctx context.Context) error {
			return exec.Do(ctx, func(sess catalog.Session) error {
				var err error
				cluster, err = sess.TopChartPage(ctx, category, chart, cursor)
				return err
			})
		})
		return crawler.Page{IDs: cluster.Items, Next: []string{cluster.NextCursor}}, err
	}
	first, err := fetch(ctx, "")
	if err != nil {
		if errors.Is(err, catalog.ErrMalformedResponse) {
			c.logger.Warn("unexpected chart page, chart is empty",
				zap.String("category", category),
				zap.String("chart", chart),
				zap.Error(err))
			return []string{}, nil
		}
		return nil, err
	}
	ids, err := crawler.Paginate(ctx, c.logger, first, fetch)
	if ids == nil {
		ids = []string{}
	}
	return ids, err
}

// withRetry retries fn while it times out.
func (c *Charts) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithCappedDuration(c.cfg.PageMaxBackoff, retry.NewExponential(c.cfg.PageBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && errors.Is(err, catalog.ErrTimeout) {
			return retry.RetryableError(err)
		}
		return err
	})
}
