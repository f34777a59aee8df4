package strategy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

const (
	packageContentType = "application/vnd.android.package-archive"
	packageSuffix      = ".apk"
)

// PackagesConfig controls the packages crawl.
type PackagesConfig struct {
	// Output is the object directory of the downloaded files.
	Output     string
	Expansions bool
	Splits     bool
}

// Packages downloads the payload files of every input item. The primary
// file is written last, so an item counts as finished only once all of its
// files are stored.
type Packages struct {
	runner Runner
	blobs  storage.BlobStore
	cfg    PackagesConfig
	logger *zap.Logger
}

// NewPackages builds the packages strategy.
func NewPackages(runner Runner, blobs storage.BlobStore, cfg PackagesConfig, logger *zap.Logger) (*Packages, error) {
	if runner == nil || blobs == nil {
		return nil, errors.New("packages strategy requires a runner and a blob store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packages{runner: runner, blobs: blobs, cfg: cfg, logger: logger.Named(NamePackages)}, nil
}

// Run downloads the packages still missing.
func (p *Packages) Run(ctx context.Context, in Input) (crawler.Report, error) {
	items, finished, err := todo(ctx, p.blobs, in, p.cfg.Output, packageSuffix)
	if err != nil {
		return crawler.Report{}, err
	}
	p.logger.Info("packages crawl planned",
		zap.Int("done", finished),
		zap.Int("todo", len(items)),
		zap.Bool("expansions", p.cfg.Expansions),
		zap.Bool("splits", p.cfg.Splits))
	return p.runner.Run(ctx, crawler.Job{
		Strategy:  NamePackages,
		Seeds:     items,
		Processor: crawler.ProcessorFunc(p.process),
	})
}

func (p *Packages) process(ctx context.Context, exec *crawler.Exec, item string) (crawler.Result, error) {
	var payload catalog.Payload
	err := exec.Do(ctx, func(sess catalog.Session) error {
		var err error
		payload, err = sess.ItemPayload(ctx, item, catalog.PayloadOptions{Expansions: p.cfg.Expansions, Splits: p.cfg.Splits})
		return err
	})
	if err != nil {
		return crawler.Result{}, err
	}
	defer func() {
		if cerr := payload.Close(); cerr != nil {
			p.logger.Debug("closing payload failed", zap.String("item", item), zap.Error(cerr))
		}
	}()

	for _, e := range payload.Expansions {
		name := fmt.Sprintf("%s.%s.%d.obb", item, e.Type, e.VersionCode)
		if err := p.write(ctx, name, "application/octet-stream", e.File); err != nil {
			return crawler.Result{}, err
		}
	}
	for _, s := range payload.Splits {
		if err := p.write(ctx, item+".split."+s.Name+".zip", "application/zip", s.File); err != nil {
			return crawler.Result{}, err
		}
	}
	if err := p.write(ctx, item+packageSuffix, packageContentType, payload.Primary); err != nil {
		return crawler.Result{}, err
	}
	return crawler.Result{}, nil
}

func (p *Packages) write(ctx context.Context, name, contentType string, f catalog.File) error {
	if f.Body == nil {
		return fmt.Errorf("%s: %w: missing body", name, catalog.ErrMalformedResponse)
	}
	uri, err := p.blobs.PutObject(ctx, storage.Join(p.cfg.Output, name), contentType, f.Body)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	p.logger.Debug("file stored", zap.String("uri", uri), zap.Int64("size", f.Size))
	return nil
}
