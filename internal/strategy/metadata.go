package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// MetadataConfig controls the metadata crawl.
type MetadataConfig struct {
	// Output is the object directory of the <id>.json documents.
	Output string
}

// Metadata downloads the detail document of every input item. Items with an
// existing document are skipped, so a rerun resumes where the last one
// stopped.
type Metadata struct {
	runner Runner
	blobs  storage.BlobStore
	cfg    MetadataConfig
	logger *zap.Logger
}

// NewMetadata builds the metadata strategy.
func NewMetadata(runner Runner, blobs storage.BlobStore, cfg MetadataConfig, logger *zap.Logger) (*Metadata, error) {
	if runner == nil || blobs == nil {
		return nil, errors.New("metadata strategy requires a runner and a blob store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Metadata{runner: runner, blobs: blobs, cfg: cfg, logger: logger.Named(NameMetadata)}, nil
}

// Run fetches the documents still missing.
func (m *Metadata) Run(ctx context.Context, in Input) (crawler.Report, error) {
	items, finished, err := todo(ctx, m.blobs, in, m.cfg.Output, ".json")
	if err != nil {
		return crawler.Report{}, err
	}
	m.logger.Info("metadata crawl planned", zap.Int("done", finished), zap.Int("todo", len(items)))
	return m.runner.Run(ctx, crawler.Job{
		Strategy:  NameMetadata,
		Seeds:     items,
		Processor: crawler.ProcessorFunc(m.process),
	})
}

func (m *Metadata) process(ctx context.Context, exec *crawler.Exec, item string) (crawler.Result, error) {
	var detail catalog.Detail
	err := exec.Do(ctx, func(sess catalog.Session) error {
		var err error
		detail, err = sess.ItemDetail(ctx, item)
		return err
	})
	if err != nil {
		return crawler.Result{}, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, detail.Raw, "", "  "); err != nil {
		return crawler.Result{}, fmt.Errorf("detail %s: %w: %w", item, catalog.ErrMalformedResponse, err)
	}
	if _, err := m.blobs.PutObject(ctx, storage.Join(m.cfg.Output, item+".json"), "application/json", &buf); err != nil {
		return crawler.Result{}, fmt.Errorf("write detail %s: %w", item, err)
	}
	return crawler.Result{}, nil
}
