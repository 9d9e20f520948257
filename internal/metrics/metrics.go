// Package metrics exposes Prometheus counters for schedules, suggestions
// and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calsuggest/internal/model"
)

// Suggestion statuses.
const (
	SuggestionOK       = "ok"
	SuggestionError    = "error"
	SuggestionAccepted = "accepted"
)

var (
	occurrencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsuggest_occurrences_total",
		Help: "Occurrences materialized per calendar source",
	}, []string{"source"})

	sourceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsuggest_source_failures_total",
		Help: "Calendar sources that could not be read or parsed",
	}, []string{"source"})

	overrideWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calsuggest_override_warnings_total",
		Help: "Overrides that matched no occurrence of their series",
	})

	suggestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsuggest_suggestions_total",
		Help: "Suggestion rounds by outcome",
	}, []string{"status"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsuggest_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calsuggest_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordSchedule counts the occurrences, failures and warnings of one
// aggregated schedule.
func RecordSchedule(s *model.AggregatedSchedule) {
	if s == nil {
		return
	}
	for _, o := range s.Occurrences {
		occurrencesTotal.WithLabelValues(o.SourceID).Inc()
	}
	for _, f := range s.Failures {
		sourceFailuresTotal.WithLabelValues(f.SourceID).Inc()
	}
	overrideWarningsTotal.Add(float64(len(s.Warnings)))
}

// RecordSourceFailure counts a source that aborted a whole schedule.
func RecordSourceFailure(sourceID string) {
	sourceFailuresTotal.WithLabelValues(sourceID).Inc()
}

func RecordSuggestion(status string) {
	suggestionsTotal.WithLabelValues(status).Inc()
}

func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
