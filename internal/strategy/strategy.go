package strategy

import (
	"context"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Strategy names reported in logs, progress events and run history.
const (
	NameCharts   = "charts"
	NameSearch   = "search"
	NameRelated  = "related"
	NameMetadata = "metadata"
	NamePackages = "packages"
)

// Runner executes crawl jobs. *crawler.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, job crawler.Job) (crawler.Report, error)
}

// baseName strips a trailing .json so checkpoint names never carry the
// extension twice.
func baseName(output string) string {
	return strings.TrimSuffix(strings.TrimSpace(output), ".json")
}
