package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesRendered tracks render attempts labeled by outcome.
	PagesRendered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_crawl_pages_total",
		Help: "The total number of pages rendered by the crawl engine, labeled by status.",
	}, []string{"status"})
	// DocumentLinksFound tracks document links recorded by the frontier.
	DocumentLinksFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_crawl_document_links_total",
		Help: "The total number of document links discovered.",
	})
	// ClassifierFailures tracks classifier calls that failed and were treated as empty.
	ClassifierFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_classifier_failures_total",
		Help: "The total number of failed relevance classifier calls, labeled by stage.",
	}, []string{"stage"})
	// RobotsDenied tracks links skipped because robots.txt disallowed them.
	RobotsDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_crawl_robots_denied_total",
		Help: "The total number of links skipped by robots.txt.",
	})
	// RobotsFallbacks tracks robots.txt fetches answered with allow-all after retries.
	RobotsFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_robots_fallback_total",
		Help: "The total number of robots.txt fetches that fell back to allow-all.",
	})
	// WaveSize records how many tasks each crawl wave dispatched.
	WaveSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_crawl_wave_tasks",
		Help:    "Histogram of tasks dispatched per crawl wave.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
)
