package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type RadarMetrics struct {
	AnalysesTotal          *prometheus.CounterVec
	AnalysisDuration       prometheus.Histogram
	RiskScore              prometheus.Histogram
	HostCalls              *prometheus.CounterVec
	HostRetries            *prometheus.CounterVec
	RateLimitWait          *prometheus.HistogramVec
	CacheHits              prometheus.Counter
	CacheMisses            prometheus.Counter
	ActiveRPC              *prometheus.GaugeVec
	RPCLatency             prometheus.Histogram
	RPCCircuitBreakerTrips *prometheus.CounterVec
	ChainIDFetchFailures   *prometheus.CounterVec
	CodeAnalysisFlags      *prometheus.CounterVec
	CodeAnalysisDuration   prometheus.Histogram
	BatchInFlight          prometheus.Gauge
}

func NewRadarMetrics() *RadarMetrics {
	return &RadarMetrics{
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskradar_analyses_total",
			Help: "Total number of token analyses by chain and outcome",
		}, []string{"chain", "outcome"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskradar_analysis_duration_seconds",
			Help:    "Time taken to analyze a single token in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskradar_risk_score",
			Help:    "Distribution of final risk scores",
			Buckets: []float64{10, 25, 40, 60, 80, 100},
		}),
		HostCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskradar_host_calls_total",
			Help: "Total number of outbound calls per host key and outcome",
		}, []string{"host", "outcome"}),
		HostRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskradar_host_retries_total",
			Help: "Total number of retried outbound calls per host key",
		}, []string{"host"}),
		RateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskradar_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the per-host rate limiter",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"host"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskradar_cache_hits_total",
			Help: "Total number of response cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskradar_cache_misses_total",
			Help: "Total number of response cache misses",
		}),
		ActiveRPC: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskradar_active_rpc",
			Help: "Indicates which RPC endpoint is currently active per chain (1=active, 0=inactive)",
		}, []string{"chain", "url"}),
		RPCLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskradar_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RPCCircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskradar_rpc_circuit_breaker_trips_total",
			Help: "Total number of times the RPC circuit breaker has been tripped per endpoint",
		}, []string{"url"}),
		ChainIDFetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskradar_chain_id_fetch_failures_total",
			Help: "Total number of failed ChainID fetch attempts",
		}, []string{"url"}),
		CodeAnalysisFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskradar_code_analysis_flags_total",
			Help: "Total number of times a specific code analysis flag has been detected",
		}, []string{"flag"}),
		CodeAnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskradar_code_analysis_duration_seconds",
			Help:    "Time taken to analyze contract bytecode in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		BatchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskradar_batch_in_flight",
			Help: "Current number of token analyses running inside batches",
		}),
	}
}

func (m *RadarMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.AnalysesTotal, m.AnalysisDuration, m.RiskScore, m.HostCalls, m.HostRetries,
		m.RateLimitWait, m.CacheHits, m.CacheMisses, m.ActiveRPC, m.RPCLatency,
		m.RPCCircuitBreakerTrips, m.ChainIDFetchFailures, m.CodeAnalysisFlags,
		m.CodeAnalysisDuration, m.BatchInFlight,
	}
}

// RegisterMetrics registers every collector on reg. Pass prometheus.DefaultRegisterer in binaries.
func RegisterMetrics(reg prometheus.Registerer, m *RadarMetrics) {
	reg.MustRegister(m.collectors()...)
}
