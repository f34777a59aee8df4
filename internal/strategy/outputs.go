package strategy

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// finishedItems lists the objects under dir and returns the item ids that
// have an object named <id><suffix>.
func finishedItems(ctx context.Context, blobs storage.BlobStore, dir, suffix string) (crawler.Set, error) {
	prefix := storage.Join(dir)
	if prefix != "" {
		prefix += "/"
	}
	paths, err := blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	done := crawler.NewSet()
	for _, p := range paths {
		rel := strings.TrimPrefix(p, prefix)
		if strings.Contains(rel, "/") {
			continue
		}
		if id, ok := strings.CutSuffix(path.Base(rel), suffix); ok && id != "" {
			done.Add(id)
		}
	}
	return done, nil
}

// todo returns the ids of in without a finished output.
func todo(ctx context.Context, blobs storage.BlobStore, in Input, dir, suffix string) ([]string, int, error) {
	done, err := finishedItems(ctx, blobs, dir, suffix)
	if err != nil {
		return nil, 0, err
	}
	return crawler.NewSet(in.All()...).Minus(done), len(done), nil
}
