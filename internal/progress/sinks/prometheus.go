package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns every
// collector for items, sessions, workers, levels and checkpoints.
type PrometheusSink struct {
	crawlsStarted   *prometheus.CounterVec
	crawlsCompleted *prometheus.CounterVec
	crawlRuntime    *prometheus.HistogramVec

	itemsDone     *prometheus.CounterVec
	itemsRequeued *prometheus.CounterVec
	itemsDropped  *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec
	idsFound      *prometheus.CounterVec

	relogins      *prometheus.CounterVec
	workerStarts  *prometheus.CounterVec
	workerCrashes *prometheus.CounterVec
	checkpoints   *prometheus.CounterVec

	level      *prometheus.GaugeVec
	done       *prometheus.GaugeVec
	discovered *prometheus.GaugeVec
	frontier   *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	strategy := []string{"strategy"}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_crawls_started_total",
			Help: "Crawls started.",
		}, strategy),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_crawls_completed_total",
			Help: "Crawls completed partitioned by result.",
		}, []string{"strategy", "result"}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_crawl_runtime_seconds",
			Help:    "Wall time per completed crawl.",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600, 24 * 3600},
		}, []string{"strategy", "result"}),
		itemsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_items_done_total",
			Help: "Work items marked done partitioned by outcome.",
		}, []string{"strategy", "outcome"}),
		itemsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_items_requeued_total",
			Help: "Work items put back into the frontier after a failure.",
		}, strategy),
		itemsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_items_dropped_total",
			Help: "Work items abandoned after exhausting retries.",
		}, strategy),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_item_duration_seconds",
			Help:    "Processing time per completed work item.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, strategy),
		idsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_ids_found_total",
			Help: "Item ids returned by the catalog, duplicates included.",
		}, strategy),
		relogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_relogins_total",
			Help: "Session renewals after rate limiting or expiry.",
		}, strategy),
		workerStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_starts_total",
			Help: "Worker goroutines started, respawns included.",
		}, strategy),
		workerCrashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_crashes_total",
			Help: "Workers that exited abnormally.",
		}, strategy),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_checkpoints_total",
			Help: "Checkpoint snapshots written.",
		}, strategy),
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_level",
			Help: "Current breadth-first level.",
		}, strategy),
		done: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_done_items",
			Help: "Size of the done set.",
		}, strategy),
		discovered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_discovered_ids",
			Help: "Size of the result set.",
		}, strategy),
		frontier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_frontier_items",
			Help: "Work items waiting in the frontier.",
		}, strategy),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted, s.crawlsCompleted, s.crawlRuntime,
		s.itemsDone, s.itemsRequeued, s.itemsDropped, s.itemDuration, s.idsFound,
		s.relogins, s.workerStarts, s.workerCrashes, s.checkpoints,
		s.level, s.done, s.discovered, s.frontier,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	strategy := evt.Strategy
	if strategy == "" {
		strategy = "unknown"
	}
	switch evt.Stage {
	case progress.StageCrawlStart:
		s.crawlsStarted.WithLabelValues(strategy).Inc()
	case progress.StageCrawlDone:
		s.crawlsCompleted.WithLabelValues(strategy, "success").Inc()
		s.observeRuntime(evt, strategy, "success")
	case progress.StageCrawlError:
		s.crawlsCompleted.WithLabelValues(strategy, "error").Inc()
		s.observeRuntime(evt, strategy, "error")
	case progress.StageItemDone:
		outcome := string(evt.Outcome)
		if outcome == "" {
			outcome = string(progress.OutcomeProcessed)
		}
		s.itemsDone.WithLabelValues(strategy, outcome).Inc()
		s.idsFound.WithLabelValues(strategy).Add(float64(evt.Found))
		if evt.Dur > 0 {
			s.itemDuration.WithLabelValues(strategy).Observe(evt.Dur.Seconds())
		}
	case progress.StageItemRequeued:
		s.itemsRequeued.WithLabelValues(strategy).Inc()
	case progress.StageItemDropped:
		s.itemsDropped.WithLabelValues(strategy).Inc()
	case progress.StageRelogin:
		s.relogins.WithLabelValues(strategy).Inc()
	case progress.StageWorkerStart:
		s.workerStarts.WithLabelValues(strategy).Inc()
	case progress.StageWorkerCrash:
		s.workerCrashes.WithLabelValues(strategy).Inc()
	case progress.StageCheckpoint:
		s.checkpoints.WithLabelValues(strategy).Inc()
	}
	s.level.WithLabelValues(strategy).Set(float64(evt.Level))
	s.done.WithLabelValues(strategy).Set(float64(evt.Done))
	s.discovered.WithLabelValues(strategy).Set(float64(evt.Discovered))
	s.frontier.WithLabelValues(strategy).Set(float64(evt.Frontier))
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, strategy, result string) {
	if evt.Dur > 0 {
		s.crawlRuntime.WithLabelValues(strategy, result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
