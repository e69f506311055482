package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
)

const namespace = "minirag"

// Metrics aggregates the Prometheus instruments for the API surface, the
// model client, the vector index backends and the ingestion pipeline. All
// methods are nil-safe so call sites never have to gate on METRICS_ENABLED
// themselves.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	embedCache *prometheus.CounterVec

	ingestRuns   *prometheus.CounterVec
	ingestChunks *prometheus.CounterVec

	vectorOps            *prometheus.CounterVec
	vectorOpLatency      *prometheus.HistogramVec
	vectorBootstrap      *prometheus.CounterVec
	vectorProviderActive *prometheus.GaugeVec

	queries *prometheus.CounterVec

	sweepRuns    *prometheus.CounterVec
	sweepDropped prometheus.Counter

	dataQuality *prometheus.CounterVec

	sloCompliance *prometheus.GaugeVec
	sloBudget     *prometheus.GaugeVec
	sloBurn       *prometheus.GaugeVec

	sloLatencyThreshold float64

	// Plain counters mirrored for the SLO evaluator, which needs raw
	// running totals rather than registry scrapes.
	apiTotal    atomic.Int64
	apiError    atomic.Int64
	apiGood     atomic.Int64
	ingestTotal atomic.Int64
	ingestError atomic.Int64
	answerTotal atomic.Int64
	answerError atomic.Int64
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		latencyThreshold := 0.5
		if v := strings.TrimSpace(os.Getenv("SLO_API_LATENCY_THRESHOLD_SECONDS")); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				latencyThreshold = f
			}
		}

		m := &Metrics{
			registry:            prometheus.NewRegistry(),
			sloLatencyThreshold: latencyThreshold,
		}

		m.apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"})
		m.apiLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency in seconds by method/route/status.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"})
		m.apiInflight = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_inflight_requests",
			Help:      "In-flight API requests.",
		})
		m.llmRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Model API requests by model/endpoint/status.",
		}, []string{"model", "endpoint", "status"})
		m.llmLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model API request latency in seconds by model/endpoint/status.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model", "endpoint", "status"})
		m.llmTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Model API tokens by model/direction.",
		}, []string{"model", "direction"})
		m.embedCache = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by outcome.",
		}, []string{"outcome"})
		m.ingestRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingestion runs by status.",
		}, []string{"status"})
		m.ingestChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_total",
			Help:      "Chunks produced by chunking strategy.",
		}, []string{"strategy"})
		m.vectorOps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_store_operations_total",
			Help:      "Vector store operations by provider/operation/status.",
		}, []string{"provider", "operation", "status"})
		m.vectorOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vector_store_operation_duration_seconds",
			Help:      "Vector store operation latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "operation", "status"})
		m.vectorBootstrap = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_store_provider_bootstrap_total",
			Help:      "Vector store provider bootstrap attempts by provider/status/code.",
		}, []string{"provider", "status", "code"})
		m.vectorProviderActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vector_store_provider_active",
			Help:      "Active vector store provider (1=selected).",
		}, []string{"provider"})
		m.queries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Retrieval queries by kind/status.",
		}, []string{"kind", "status"})
		m.sweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Orphan collection sweep runs by status.",
		}, []string{"status"})
		m.sweepDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_collections_dropped_total",
			Help:      "Orphan collections dropped by the sweep.",
		})
		m.dataQuality = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_quality_issues_total",
			Help:      "Data quality issues by stage/issue/key.",
		}, []string{"stage", "issue", "key"})
		m.sloCompliance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slo_compliance",
			Help:      "SLO compliance (SLI) over window.",
		}, []string{"slo", "window"})
		m.sloBudget = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slo_error_budget_remaining",
			Help:      "Error budget remaining (0-1).",
		}, []string{"slo", "window"})
		m.sloBurn = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slo_burn_rate",
			Help:      "Error budget burn rate.",
		}, []string{"slo", "window"})

		m.registry.MustRegister(
			m.apiRequests, m.apiLatency, m.apiInflight,
			m.llmRequests, m.llmLatency, m.llmTokens,
			m.embedCache,
			m.ingestRuns, m.ingestChunks,
			m.vectorOps, m.vectorOpLatency, m.vectorBootstrap, m.vectorProviderActive,
			m.queries,
			m.sweepRuns, m.sweepDropped,
			m.dataQuality,
			m.sloCompliance, m.sloBudget, m.sloBurn,
		)
		m.registry.MustRegister(prometheus.NewGoCollector())
		m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

		instance = m
		if log != nil {
			log.Info("Observability metrics enabled")
		}
	})
	return instance
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
	m.apiTotal.Add(1)
	if strings.HasPrefix(status, "5") {
		m.apiError.Add(1)
	}
	if dur.Seconds() <= m.sloLatencyThreshold {
		m.apiGood.Add(1)
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(model, endpoint, status).Inc()
	m.llmLatency.WithLabelValues(model, endpoint, status).Observe(dur.Seconds())
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func (m *Metrics) ObserveEmbeddingCache(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.embedCache.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveIngest(status string) {
	if m == nil {
		return
	}
	m.ingestRuns.WithLabelValues(status).Inc()
	m.ingestTotal.Add(1)
	if status != "success" {
		m.ingestError.Add(1)
	}
}

func (m *Metrics) AddIngestChunks(strategy string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestChunks.WithLabelValues(strategy).Add(float64(n))
}

func (m *Metrics) ObserveVectorStoreOperation(provider, operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.vectorOps.WithLabelValues(provider, operation, status).Inc()
	m.vectorOpLatency.WithLabelValues(provider, operation, status).Observe(dur.Seconds())
}

func (m *Metrics) ObserveVectorStoreProviderBootstrap(provider, status, code string) {
	if m == nil {
		return
	}
	m.vectorBootstrap.WithLabelValues(provider, status, code).Inc()
}

func (m *Metrics) SetVectorStoreProviderActive(provider string) {
	if m == nil {
		return
	}
	m.vectorProviderActive.WithLabelValues(provider).Set(1)
}

// ObserveQuery counts one query by kind and outcome. Rejected requests
// (caller mistakes) appear in the counter but stay out of the answer
// success objective.
func (m *Metrics) ObserveQuery(kind, status string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(kind, status).Inc()
	if kind == "answer" && status != "rejected" {
		m.answerTotal.Add(1)
		if status != "success" {
			m.answerError.Add(1)
		}
	}
}

func (m *Metrics) ObserveSweep(status string, dropped int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(status).Inc()
	if dropped > 0 {
		m.sweepDropped.Add(float64(dropped))
	}
}

func (m *Metrics) IncDataQuality(stage, issue, key string) {
	if m == nil {
		return
	}
	m.dataQuality.WithLabelValues(stage, issue, key).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func getEnv(key string) string {
	return os.Getenv(key)
}
