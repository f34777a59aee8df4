package crawler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Page is one fetched page: the ids it listed and the cursors it offers.
type Page struct {
	IDs  []string
	Next []string
}

// PageFunc fetches the page behind cursor.
type PageFunc func(ctx context.Context, cursor string) (Page, error)

// Paginate follows the cursors of first until none are left and returns
// every id seen, first page included. Cursors are visited once. A malformed
// page ends the walk without an error; other failures are returned together
// with the ids gathered so far.
func Paginate(ctx context.Context, logger *zap.Logger, first Page, fetch PageFunc) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := append([]string(nil), first.IDs...)
	visited := make(Set)
	queue := make([]string, 0, len(first.Next))
	enqueue := func(cursors []string) {
		for _, c := range cursors {
			if c != "" && visited.Add(c) {
				queue = append(queue, c)
			}
		}
	}
	enqueue(first.Next)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		cursor := queue[0]
		queue = queue[1:]
		page, err := fetch(ctx, cursor)
		if err != nil {
			if errors.Is(err, catalog.ErrMalformedResponse) {
				logger.Warn("unexpected page shape, stopping pagination", zap.String("cursor", cursor), zap.Error(err))
				return ids, nil
			}
			return ids, err
		}
		ids = append(ids, page.IDs...)
		enqueue(page.Next)
	}
	return ids, nil
}
