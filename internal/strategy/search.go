package strategy

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// DefaultAlphabet is the character set search terms are built from.
const DefaultAlphabet = "abcdefghijklmnopqrstuvwxyz"

// SearchConfig controls the search crawl.
type SearchConfig struct {
	// Output is the checkpoint base name (default search).
	Output string
	// Length is the search term length (default 2).
	Length   int
	Alphabet string
	// CheckpointEvery is the number of finished terms between tmp
	// snapshots (default 10).
	CheckpointEvery int
}

// Search queries every term of a fixed length and collects the ids found.
type Search struct {
	runner Runner
	cfg    SearchConfig
	logger *zap.Logger
}

// NewSearch builds the search strategy.
func NewSearch(runner Runner, cfg SearchConfig, logger *zap.Logger) (*Search, error) {
	if runner == nil {
		return nil, errors.New("search strategy requires a runner")
	}
	cfg.Output = baseName(cfg.Output)
	if cfg.Output == "" {
		cfg.Output = NameSearch
	}
	if cfg.Length <= 0 {
		cfg.Length = 2
	}
	if cfg.Alphabet == "" {
		cfg.Alphabet = DefaultAlphabet
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Search{runner: runner, cfg: cfg, logger: logger.Named(NameSearch)}, nil
}

// Run crawls every term not yet done.
func (s *Search) Run(ctx context.Context) (crawler.Report, error) {
	terms := Terms(s.cfg.Alphabet, s.cfg.Length)
	s.logger.Info("search terms generated", zap.Int("terms", len(terms)), zap.Int("length", s.cfg.Length))
	return s.runner.Run(ctx, crawler.Job{
		Strategy:        NameSearch,
		Name:            s.cfg.Output,
		Seeds:           terms,
		CheckpointEvery: s.cfg.CheckpointEvery,
		Processor:       crawler.ProcessorFunc(s.process),
	})
}

func (s *Search) process(ctx context.Context, exec *crawler.Exec, term string) (crawler.Result, error) {
	fetch := func(ctx context.Context, q catalog.SearchQuery) (crawler.Page, error) {
		var page catalog.SearchPage
		err := exec.Do(ctx, func(sess catalog.Session) error {
			var err error
			page, err = sess.SearchPage(ctx, q)
			return err
		})
		return searchPage(page), err
	}
	first, err := fetch(ctx, catalog.SearchQuery{Term: term})
	if err != nil {
		if errors.Is(err, catalog.ErrMalformedResponse) {
			s.logger.Warn("unexpected result page, term has no results", zap.String("term", term), zap.Error(err))
			return crawler.Result{}, nil
		}
		return crawler.Result{}, err
	}
	ids, err := crawler.Paginate(ctx, s.logger, first, func(ctx context.Context, cursor string) (crawler.Page, error) {
		return fetch(ctx, catalog.SearchQuery{Cursor: cursor})
	})
	if err != nil {
		return crawler.Result{}, err
	}
	return crawler.Result{IDs: ids}, nil
}

// searchPage flattens the clusters of a result page. The first page also
// carries recommendation clusters; their items are collected too.
func searchPage(p catalog.SearchPage) crawler.Page {
	page := crawler.Page{Next: []string{p.NextCursor}}
	for _, cl := range p.Clusters {
		page.IDs = append(page.IDs, cl.Items...)
		page.Next = append(page.Next, cl.NextCursor)
	}
	return page
}

// Terms returns every string of the given length over alphabet, in
// lexicographic order of the alphabet. Duplicate characters are ignored.
func Terms(alphabet string, length int) []string {
	if length <= 0 {
		return nil
	}
	chars := make([]rune, 0, len(alphabet))
	seen := make(map[rune]bool)
	for _, r := range strings.ToLower(alphabet) {
		if !seen[r] {
			seen[r] = true
			chars = append(chars, r)
		}
	}
	if len(chars) == 0 {
		return nil
	}
	terms := []string{""}
	for range length {
		next := make([]string, 0, len(terms)*len(chars))
		for _, prefix := range terms {
			for _, r := range chars {
				next = append(next, prefix+string(r))
			}
		}
		terms = next
	}
	return terms
}
