package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "research_jobs_submitted_total", Help: "Research jobs accepted"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "research_jobs_completed_total", Help: "Research jobs that produced a report"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "research_jobs_failed_total", Help: "Research jobs that ended in failure"})
	JobsRunning      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "research_jobs_running", Help: "Research jobs currently running"})
	JobDuration      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "research_job_duration_seconds", Help: "Wall time of research jobs", Buckets: []float64{10, 30, 60, 120, 300, 600, 1200}})
	SubmitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "research_submit_rate_limit_rejects_total", Help: "Submissions rejected by the per-client limiter"})
	LogCaptureErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "research_log_capture_errors_total", Help: "Captured log lines that could not be stored"})

	LimiterWaits       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "llm_limiter_waits_total", Help: "Acquire calls that had to sleep for headroom"}, []string{"limiter", "key"})
	LimiterWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "llm_limiter_wait_seconds", Help: "Time spent sleeping for headroom", Buckets: []float64{0.5, 1, 5, 15, 30, 61}}, []string{"limiter", "key"})
	LLMCalls           = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "llm_calls_total", Help: "Model calls by outcome"}, []string{"model", "outcome"})
	LLMTokens          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "llm_tokens_total", Help: "Tokens reported by providers"}, []string{"model", "kind"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsRunning,
			JobDuration,
			SubmitRejects,
			LogCaptureErrors,
			LimiterWaits,
			LimiterWaitSeconds,
			LLMCalls,
			LLMTokens,
		)
	})
	return promhttp.Handler()
}
