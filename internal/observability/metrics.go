package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	guesses        *prometheus.CounterVec
	evalLatency    *prometheus.HistogramVec
	reevalLatency  *prometheus.HistogramVec
	reevalTeams    *prometheus.CounterVec
	validatorCalls *prometheus.CounterVec

	aggregateOps       *prometheus.HistogramVec
	aggregateConflicts *prometheus.CounterVec
	aggregateRetries   *prometheus.CounterVec

	hubDelivered   *prometheus.CounterVec
	hubDropped     *prometheus.CounterVec
	activeSessions prometheus.Gauge
	hintTimers     *prometheus.CounterVec

	queueDepth *prometheus.GaugeVec
	dbStats    *prometheus.GaugeVec
	redisUp    prometheus.Gauge
	redisPing  prometheus.Gauge
	workerRuns *prometheus.CounterVec
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

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

// Init builds the process-wide collectors when METRICS_ENABLED is set.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics(prometheus.NewRegistry())
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// NewMetrics registers every collector on reg. Tests use a fresh registry each.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hunt_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "hunt_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		guesses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_guesses_total",
			Help: "Submitted guesses by outcome.",
		}, []string{"outcome"}),
		evalLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hunt_evaluation_duration_seconds",
			Help:    "Engine operation latency by operation/status.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"op", "status"}),
		reevalLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hunt_reevaluation_duration_seconds",
			Help:    "Whole-puzzle reevaluation latency by status.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),
		reevalTeams: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_reevaluation_teams_total",
			Help: "Teams visited by reevaluation by result (unchanged, solved, unsolved, moved, failed).",
		}, []string{"result"}),
		validatorCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_validator_calls_total",
			Help: "Validator invocations by kind/result.",
		}, []string{"kind", "result"}),
		aggregateOps: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hunt_aggregate_operation_duration_seconds",
			Help:    "Transactional write duration by operation/status.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"op", "status"}),
		aggregateConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_aggregate_conflicts_total",
			Help: "Optimistic concurrency conflicts by operation.",
		}, []string{"op"}),
		aggregateRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_aggregate_retryable_total",
			Help: "Retryable write failures by operation.",
		}, []string{"op"}),
		hubDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_hub_messages_delivered_total",
			Help: "Messages queued to clients by type.",
		}, []string{"type"}),
		hubDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_hub_clients_dropped_total",
			Help: "Clients disconnected by the hub by reason.",
		}, []string{"reason"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "hunt_sessions_active",
			Help: "Open websocket sessions.",
		}),
		hintTimers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_hint_timer_events_total",
			Help: "Hint scheduler events by kind (armed, fired, revoked, panic).",
		}, []string{"event"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hunt_reevaluation_jobs",
			Help: "Reevaluation jobs by status.",
		}, []string{"status"}),
		dbStats: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hunt_db_pool",
			Help: "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "hunt_redis_up",
			Help: "1 when the last redis ping succeeded.",
		}),
		redisPing: f.NewGauge(prometheus.GaugeOpts{
			Name: "hunt_redis_ping_seconds",
			Help: "Last redis ping latency.",
		}),
		workerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunt_worker_jobs_total",
			Help: "Reevaluation jobs processed by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
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

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
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

// IncGuess counts a submission; outcome is correct, incorrect, pending or a
// rejection reason.
func (m *Metrics) IncGuess(outcome string) {
	if m == nil {
		return
	}
	m.guesses.WithLabelValues(nonEmpty(outcome, "unknown")).Inc()
}

func (m *Metrics) ObserveEvaluation(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.evalLatency.WithLabelValues(nonEmpty(op, "unknown"), nonEmpty(status, "success")).Observe(dur.Seconds())
}

func (m *Metrics) ObserveReevaluation(status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.reevalLatency.WithLabelValues(nonEmpty(status, "success")).Observe(dur.Seconds())
}

func (m *Metrics) AddReevaluationTeams(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reevalTeams.WithLabelValues(nonEmpty(result, "unchanged")).Add(float64(n))
}

func (m *Metrics) IncValidatorCall(kind, result string) {
	if m == nil {
		return
	}
	m.validatorCalls.WithLabelValues(nonEmpty(kind, "unknown"), nonEmpty(result, "unknown")).Inc()
}

func (m *Metrics) ObserveAggregateOperation(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregateOps.WithLabelValues(nonEmpty(op, "unknown"), nonEmpty(status, "unknown")).Observe(dur.Seconds())
}

func (m *Metrics) IncAggregateConflict(op string) {
	if m == nil {
		return
	}
	m.aggregateConflicts.WithLabelValues(nonEmpty(op, "unknown")).Inc()
}

func (m *Metrics) IncAggregateRetry(op string) {
	if m == nil {
		return
	}
	m.aggregateRetries.WithLabelValues(nonEmpty(op, "unknown")).Inc()
}

func (m *Metrics) IncHubDelivered(msgType string) {
	if m == nil {
		return
	}
	m.hubDelivered.WithLabelValues(nonEmpty(msgType, "unknown")).Inc()
}

func (m *Metrics) IncHubDropped(reason string) {
	if m == nil {
		return
	}
	m.hubDropped.WithLabelValues(nonEmpty(reason, "unknown")).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) IncHintTimer(event string) {
	if m == nil {
		return
	}
	m.hintTimers.WithLabelValues(nonEmpty(event, "unknown")).Inc()
}

func (m *Metrics) IncWorkerJob(status string) {
	if m == nil {
		return
	}
	m.workerRuns.WithLabelValues(nonEmpty(status, "unknown")).Inc()
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.dbStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.dbStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.dbStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.dbStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.dbStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.dbStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	statuses := []string{types.JobStatusQueued, types.JobStatusRunning, types.JobStatusSucceeded, types.JobStatusFailed}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range statuses {
					m.queueDepth.WithLabelValues(s).Set(0)
				}
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&types.ReevaluationJob{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				for _, row := range rows {
					m.queueDepth.WithLabelValues(nonEmpty(row.Status, "unknown")).Set(float64(row.Count))
				}
			}
		}
	}()
}

func nonEmpty(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}
