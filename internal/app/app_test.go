package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/catalog/catalogtest"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/store"
	"github.com/JakeFAU/catalog-crawler/internal/strategy"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Catalog: config.CatalogConfig{BaseURL: "http://catalog.invalid", Device: "px_3a"},
		Crawler: config.CrawlerConfig{
			Workers:         2,
			MaxItemAttempts: 3,
			RetryBaseDelay:  time.Millisecond,
			RetryMaxDelay:   2 * time.Millisecond,
			ReloginBackoff:  time.Millisecond,
			RespawnDelay:    time.Millisecond,
		},
		Checkpoint: config.CheckpointConfig{Backend: "file", Dir: filepath.Join(dir, "checkpoints")},
		Storage:    config.StorageConfig{Backend: "local", BaseDir: filepath.Join(dir, "out")},
		Logging:    config.LoggingConfig{Level: "info"},
	}
}

func TestBuildDefaultsToGatewayClient(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), testConfig(t), "search", app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.NotNil(t, a.Engine())
	assert.NotNil(t, a.Sessions())
	assert.NotNil(t, a.Blobs())
	assert.NotNil(t, a.Runs())
	assert.Nil(t, a.Edges())
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Checkpoint.Backend = "tape"
	_, err := app.Build(context.Background(), cfg, "search", app.WithLogger(zap.NewNop()))
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Catalog.BaseURL = ""
	_, err = app.Build(context.Background(), cfg, "search", app.WithLogger(zap.NewNop()))
	require.Error(t, err)
}

func TestSearchThroughApp(t *testing.T) {
	t.Parallel()

	cat := catalogtest.New()
	cat.SetSearch("a", catalog.SearchPage{Clusters: []catalog.Cluster{{Items: []string{"com.alpha"}}}})
	cfg := testConfig(t)

	a, err := app.Build(context.Background(), cfg, "search",
		app.WithAuthenticator(cat), app.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	s, err := strategy.NewSearch(a.Engine(), strategy.SearchConfig{Length: 1, Alphabet: "ab"}, a.Logger())
	require.NoError(t, err)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.alpha"}, report.IDs)

	status, ok := a.Engine().Status()
	require.True(t, ok)
	assert.False(t, status.Running)
	assert.Equal(t, 2, status.Done)

	require.NoError(t, a.Close(context.Background()))

	_, err = os.Stat(filepath.Join(cfg.Checkpoint.Dir, "search.json"))
	require.NoError(t, err)

	runs, err := a.Runs().ListRuns(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, store.RunSuccess, runs[0].Status)
	assert.Equal(t, "search", runs[0].Output)
	assert.Equal(t, 2, runs[0].Done)
}

func TestServeDisabledWithoutListen(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), testConfig(t), "charts", app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	require.NoError(t, a.Serve(context.Background()))
}

func TestServeStatusRoutes(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.Listen = "127.0.0.1:0"
	a, err := app.Build(context.Background(), cfg, "search", app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("status server did not stop")
	}
}

func TestRegistryExposesCrawlMetrics(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), testConfig(t), "search", app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	families, err := a.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}

func TestBuildWithKafkaProgress(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Progress.KafkaBrokers = []string{"127.0.0.1:1"}
	cfg.Progress.KafkaTopic = "crawl-progress"
	a, err := app.Build(context.Background(), cfg, "related", app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
}
