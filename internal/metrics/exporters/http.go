// Package exporters publishes call and transcoder metrics over HTTP and SSE.
package exporters

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// scrapeTimeout bounds one scrape so a stuck collector cannot hold the
// API server's connection open.
const scrapeTimeout = 10 * time.Second

// HTTPHandler serves the default registry, OpenMetrics when the scraper
// asks for it.
func HTTPHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
			Timeout:           scrapeTimeout,
		}),
	)
}
