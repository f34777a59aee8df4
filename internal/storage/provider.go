// Package storage defines where crawl outputs (chart listings, item
// metadata documents and payload files) are written. Implementations live
// in the local, gcs and memory subpackages.
package storage

import (
	"context"
	"io"
	"strings"
)

// BlobStore writes output objects and answers which ones already exist so
// consumer crawls can skip finished items.
type BlobStore interface {
	// PutObject streams r to path and returns the object URI.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// Exists reports whether path has been written.
	Exists(ctx context.Context, path string) (bool, error)
	// List returns the paths under prefix, relative to the store root.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Join builds an object path from slash separated parts, ignoring empty parts.
func Join(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
