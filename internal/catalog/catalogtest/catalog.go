// Package catalogtest provides a scripted in-memory catalog for tests.
package catalogtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Operation names used to script faults and inspect calls.
const (
	OpChart   = "chart"
	OpSearch  = "search"
	OpRelated = "related"
	OpDetail  = "detail"
	OpPayload = "payload"
)

// PayloadFixture describes the files served for an item.
type PayloadFixture struct {
	Primary    []byte
	Expansions []ExpansionFixture
	Splits     map[string][]byte
}

// ExpansionFixture describes one expansion file.
type ExpansionFixture struct {
	Type        string
	VersionCode int64
	Data        []byte
}

// Call records one request served by the fake.
type Call struct {
	Op        string
	Key       string
	SessionID string
}

type fault struct {
	err      error
	panicMsg string
}

// Catalog is a scripted catalog. The zero value is empty but usable after
// New. All methods are safe for concurrent use.
type Catalog struct {
	mu sync.Mutex

	charts         map[string]catalog.Cluster
	chartCursors   map[string]catalog.Cluster
	search         map[string]catalog.SearchPage
	searchCursors  map[string]catalog.SearchPage
	related        map[string]catalog.RelatedPage
	relatedCursors map[string]catalog.RelatedPage
	details        map[string]json.RawMessage
	payloads       map[string]PayloadFixture

	faults      map[string][]fault
	calls       []Call
	logins      int
	loginErrors []error
	revoked     map[string]bool
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		charts:         make(map[string]catalog.Cluster),
		chartCursors:   make(map[string]catalog.Cluster),
		search:         make(map[string]catalog.SearchPage),
		searchCursors:  make(map[string]catalog.SearchPage),
		related:        make(map[string]catalog.RelatedPage),
		relatedCursors: make(map[string]catalog.RelatedPage),
		details:        make(map[string]json.RawMessage),
		payloads:       make(map[string]PayloadFixture),
		faults:         make(map[string][]fault),
		revoked:        make(map[string]bool),
	}
}

// ChartKey builds the fault/call key of a chart's first page.
func ChartKey(category, chart string) string {
	return category + "/" + chart
}

// SetChart scripts the first page of a chart.
func (c *Catalog) SetChart(category, chart string, page catalog.Cluster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.charts[ChartKey(category, chart)] = page
}

// SetChartCursor scripts a follow-up chart page.
func (c *Catalog) SetChartCursor(cursor string, page catalog.Cluster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chartCursors[cursor] = page
}

// SetSearch scripts the first result page of a term.
func (c *Catalog) SetSearch(term string, page catalog.SearchPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.search[term] = page
}

// SetSearchCursor scripts a follow-up search page.
func (c *Catalog) SetSearchCursor(cursor string, page catalog.SearchPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchCursors[cursor] = page
}

// SetRelated scripts the related page of an item.
func (c *Catalog) SetRelated(itemID string, page catalog.RelatedPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.related[itemID] = page
}

// SetRelatedIDs is a shortcut for a single-stream related page.
func (c *Catalog) SetRelatedIDs(itemID string, ids ...string) {
	c.SetRelated(itemID, catalog.RelatedPage{Streams: []catalog.Cluster{{Title: "similar", Items: ids}}})
}

// SetRelatedCursor scripts a follow-up related page.
func (c *Catalog) SetRelatedCursor(cursor string, page catalog.RelatedPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relatedCursors[cursor] = page
}

// SetDetail scripts the detail document of an item.
func (c *Catalog) SetDetail(itemID string, raw json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details[itemID] = raw
}

// SetPayload scripts the payload files of an item.
func (c *Catalog) SetPayload(itemID string, p PayloadFixture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads[itemID] = p
}

// Fail makes the next len(errs) calls of op on key fail with errs in order.
func (c *Catalog) Fail(op, key string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, err := range errs {
		c.faults[op+"|"+key] = append(c.faults[op+"|"+key], fault{err: err})
	}
}

// Panic makes the next call of op on key panic.
func (c *Catalog) Panic(op, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op+"|"+key] = append(c.faults[op+"|"+key], fault{panicMsg: "scripted panic: " + op + " " + key})
}

// FailLogins makes the next len(errs) logins fail.
func (c *Catalog) FailLogins(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loginErrors = append(c.loginErrors, errs...)
}

// Logins returns the number of successful authentications.
func (c *Catalog) Logins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logins
}

// Calls returns every call served so far, including failed ones.
func (c *Catalog) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallsFor returns the calls of op on key.
func (c *Catalog) CallsFor(op, key string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Op == op && call.Key == key {
			out = append(out, call)
		}
	}
	return out
}

// Authenticate implements catalog.Authenticator.
func (c *Catalog) Authenticate(ctx context.Context) (catalog.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.loginErrors) > 0 {
		err := c.loginErrors[0]
		c.loginErrors = c.loginErrors[1:]
		return nil, err
	}
	c.logins++
	return &session{id: fmt.Sprintf("session-%d", c.logins), cat: c}, nil
}

// begin records the call and applies a scripted fault. A session that
// produced a session error is revoked and rejects further calls.
func (c *Catalog) begin(ctx context.Context, sessionID, op, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.calls = append(c.calls, Call{Op: op, Key: key, SessionID: sessionID})
	if c.revoked[sessionID] {
		c.mu.Unlock()
		return fmt.Errorf("%s %s: %w", op, key, catalog.ErrUnauthorized)
	}
	fk := op + "|" + key
	queue := c.faults[fk]
	if len(queue) == 0 {
		c.mu.Unlock()
		return nil
	}
	f := queue[0]
	c.faults[fk] = queue[1:]
	if f.err != nil && catalog.IsSessionError(f.err) {
		c.revoked[sessionID] = true
	}
	c.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return fmt.Errorf("%s %s: %w", op, key, f.err)
}

type session struct {
	id  string
	cat *Catalog
}

func (s *session) ID() string { return s.id }

func (s *session) TopChartPage(ctx context.Context, category, chart, cursor string) (catalog.Cluster, error) {
	key := cursor
	if key == "" {
		key = ChartKey(category, chart)
	}
	if err := s.cat.begin(ctx, s.id, OpChart, key); err != nil {
		return catalog.Cluster{}, err
	}
	s.cat.mu.Lock()
	defer s.cat.mu.Unlock()
	if cursor != "" {
		return s.cat.chartCursors[cursor], nil
	}
	return s.cat.charts[key], nil
}

func (s *session) SearchPage(ctx context.Context, q catalog.SearchQuery) (catalog.SearchPage, error) {
	key := q.Cursor
	if key == "" {
		key = q.Term
	}
	if err := s.cat.begin(ctx, s.id, OpSearch, key); err != nil {
		return catalog.SearchPage{}, err
	}
	s.cat.mu.Lock()
	defer s.cat.mu.Unlock()
	if q.Cursor != "" {
		return s.cat.searchCursors[q.Cursor], nil
	}
	return s.cat.search[q.Term], nil
}

func (s *session) RelatedPage(ctx context.Context, q catalog.RelatedQuery) (catalog.RelatedPage, error) {
	key := q.Cursor
	if key == "" {
		key = q.ItemID
	}
	if err := s.cat.begin(ctx, s.id, OpRelated, key); err != nil {
		return catalog.RelatedPage{}, err
	}
	s.cat.mu.Lock()
	defer s.cat.mu.Unlock()
	if q.Cursor != "" {
		return s.cat.relatedCursors[q.Cursor], nil
	}
	return s.cat.related[q.ItemID], nil
}

func (s *session) ItemDetail(ctx context.Context, itemID string) (catalog.Detail, error) {
	if err := s.cat.begin(ctx, s.id, OpDetail, itemID); err != nil {
		return catalog.Detail{}, err
	}
	s.cat.mu.Lock()
	defer s.cat.mu.Unlock()
	raw, ok := s.cat.details[itemID]
	if !ok {
		return catalog.Detail{}, fmt.Errorf("detail %s: %w", itemID, catalog.ErrNotAvailable)
	}
	return catalog.Detail{ItemID: itemID, Raw: raw}, nil
}

func (s *session) ItemPayload(ctx context.Context, itemID string, opts catalog.PayloadOptions) (catalog.Payload, error) {
	if err := s.cat.begin(ctx, s.id, OpPayload, itemID); err != nil {
		return catalog.Payload{}, err
	}
	s.cat.mu.Lock()
	defer s.cat.mu.Unlock()
	fx, ok := s.cat.payloads[itemID]
	if !ok {
		return catalog.Payload{}, fmt.Errorf("payload %s: %w", itemID, catalog.ErrNotAvailable)
	}
	p := catalog.Payload{Primary: file(fx.Primary)}
	if opts.Expansions {
		for _, e := range fx.Expansions {
			p.Expansions = append(p.Expansions, catalog.ExpansionFile{Type: e.Type, VersionCode: e.VersionCode, File: file(e.Data)})
		}
	}
	if opts.Splits {
		for name, data := range fx.Splits {
			p.Splits = append(p.Splits, catalog.SplitFile{Name: name, File: file(data)})
		}
	}
	return p, nil
}

func file(data []byte) catalog.File {
	return catalog.File{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}
}
