// Package strategy turns the catalog crawl modes (charts, search, related,
// metadata and packages) into crawl jobs for the crawler engine, and writes
// their outputs to the blob store.
package strategy
