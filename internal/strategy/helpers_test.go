package strategy

import (
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog/catalogtest"
	"github.com/JakeFAU/catalog-crawler/internal/checkpoint"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func newEngine(cat *catalogtest.Catalog, store checkpoint.Store, workers int) *crawler.Engine {
	cfg := crawler.Config{
		Workers:         workers,
		MaxItemAttempts: 3,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   2 * time.Millisecond,
		ReloginBackoff:  time.Millisecond,
		RespawnDelay:    time.Millisecond,
	}
	return crawler.New(cfg, cat, store, nil, zap.NewNop())
}
