package catalog

import (
	"context"
	"encoding/json"
	"io"
)

// Session is an authenticated handle to the catalog. A Session is owned by a
// single worker; when it fails with a session error it is replaced, never
// repaired.
type Session interface {
	ID() string
	TopChartPage(ctx context.Context, category, chart, cursor string) (Cluster, error)
	SearchPage(ctx context.Context, query SearchQuery) (SearchPage, error)
	RelatedPage(ctx context.Context, query RelatedQuery) (RelatedPage, error)
	ItemDetail(ctx context.Context, itemID string) (Detail, error)
	ItemPayload(ctx context.Context, itemID string, opts PayloadOptions) (Payload, error)
}

// Authenticator produces fresh sessions.
type Authenticator interface {
	Authenticate(ctx context.Context) (Session, error)
}

// Cluster is one page of a list of items with an optional continuation.
type Cluster struct {
	Title      string   `json:"title,omitempty"`
	Items      []string `json:"items"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// SearchQuery selects either the first page for a term or a follow-up page.
type SearchQuery struct {
	Term   string
	Cursor string
}

// SearchPage is a page of search results.
type SearchPage struct {
	Clusters   []Cluster `json:"clusters"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// RelatedQuery selects either the related-items entry page of an item or a
// follow-up cluster page.
type RelatedQuery struct {
	ItemID string
	Cursor string
}

// RelatedPage groups the streams of items related to an item.
type RelatedPage struct {
	Streams []Cluster `json:"streams"`
}

// Detail is the raw metadata document of an item.
type Detail struct {
	ItemID string          `json:"item_id"`
	Raw    json.RawMessage `json:"raw"`
}

// PayloadOptions selects which optional files accompany the primary payload.
type PayloadOptions struct {
	Expansions bool
	Splits     bool
}

// File is a streamed file body. Callers must close Body.
type File struct {
	Body io.ReadCloser
	Size int64
}

// ExpansionFile is an optional auxiliary data file.
type ExpansionFile struct {
	Type        string
	VersionCode int64
	File        File
}

// SplitFile is a named partial package.
type SplitFile struct {
	Name string
	File File
}

// Payload bundles every file downloaded for an item.
type Payload struct {
	Primary    File
	Expansions []ExpansionFile
	Splits     []SplitFile
}

// Close releases every body held by the payload.
func (p Payload) Close() error {
	var first error
	closeBody := func(f File) {
		if f.Body == nil {
			return
		}
		if err := f.Body.Close(); err != nil && first == nil {
			first = err
		}
	}
	closeBody(p.Primary)
	for _, e := range p.Expansions {
		closeBody(e.File)
	}
	for _, s := range p.Splits {
		closeBody(s.File)
	}
	return first
}
