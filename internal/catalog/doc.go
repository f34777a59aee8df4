// Package catalog defines the contract between the crawl engine and the
// remote application catalog: an authenticated Session exposing paged
// listing endpoints plus per-item detail and payload retrieval, and the
// error taxonomy the engine uses to decide how to react to failures.
package catalog
