package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counters
	LoginCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dues_login_total",
			Help: "Total number of login attempts",
		},
		[]string{"outcome"}, // outcome can be "success", "invalid_credentials", "tenant_blocked"
	)

	// Tenant registration counter
	RegisterCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dues_tenant_register_total",
			Help: "Total number of tenant registrations",
		},
		[]string{"outcome"},
	)

	// Tenant lifecycle operation counter
	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dues_tenant_operations_total",
			Help: "Total number of tenant lifecycle operations",
		},
		[]string{"operation"}, // operation can be "create", "approve", "reject", "archive", "restore"
	)

	// Tenant context resolution outcomes
	ResolutionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dues_tenant_resolution_total",
			Help: "Total number of tenant context resolutions by outcome",
		},
		[]string{"outcome"}, // outcome can be "full", "limited", "system", "not_found", "gone", ...
	)

	// Partition handle open attempts
	HandleOpenCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dues_partition_handle_open_total",
			Help: "Total number of partition handle open attempts",
		},
		[]string{"outcome"}, // outcome can be "success", "error"
	)

	// Partition handle evictions
	HandleEvictionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dues_partition_handle_evictions_total",
			Help: "Total number of partition handles evicted",
		},
		[]string{"reason"}, // reason can be "idle", "broken", "closed"
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dues_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Tenant-specific error counter
	TenantErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dues_tenant_errors_total",
			Help: "Total number of tenant-related errors",
		},
		[]string{"tenant_id", "error_type"},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dues_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dues_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Partition provisioning duration
	ProvisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dues_partition_provision_duration_seconds",
			Help:    "Duration of tenant partition provisioning in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)
)

// Gauge metrics
var (
	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dues_info",
			Help: "Information about the dues service",
		},
		[]string{"version", "strategy"},
	)

	// Open partition handles
	OpenHandlesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dues_partition_handles_open",
			Help: "Number of partition handles currently cached",
		},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(TenantOperationCounter)
	prometheus.MustRegister(ResolutionCounter)
	prometheus.MustRegister(HandleOpenCounter)
	prometheus.MustRegister(HandleEvictionCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(TenantErrorCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)
	prometheus.MustRegister(ProvisionDuration)

	// Register gauges
	prometheus.MustRegister(InfoGauge)
	prometheus.MustRegister(OpenHandlesGauge)
}

// SetInfo publishes the running version and tenancy strategy
func SetInfo(version, strategy string) {
	InfoGauge.With(prometheus.Labels{"version": version, "strategy": strategy}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func() {
	startTime := time.Now()
	return func() {
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(time.Since(startTime).Seconds())
	}
}

// TrackProvision measures a provisioning run; call the result with the outcome error
func TrackProvision() func(error) {
	startTime := time.Now()
	return func(err error) {
		ProvisionDuration.With(prometheus.Labels{
			"outcome": outcome(err),
		}).Observe(time.Since(startTime).Seconds())
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the request handler
			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordLogin records a login attempt by outcome
func RecordLogin(result string) {
	LoginCounter.With(prometheus.Labels{"outcome": result}).Inc()
}

// RecordRegistration records a tenant registration attempt
func RecordRegistration(err error) {
	RegisterCounter.With(prometheus.Labels{"outcome": outcome(err)}).Inc()
}

// RecordTenantOperation records a tenant lifecycle operation
func RecordTenantOperation(operation string) {
	TenantOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordResolution records the outcome of a tenant context resolution
func RecordResolution(result string) {
	ResolutionCounter.With(prometheus.Labels{"outcome": result}).Inc()
}

// RecordHandleOpen records a partition handle open attempt
func RecordHandleOpen(err error) {
	HandleOpenCounter.With(prometheus.Labels{"outcome": outcome(err)}).Inc()
}

// RecordHandleEviction records a dropped partition handle
func RecordHandleEviction(reason string) {
	HandleEvictionCounter.With(prometheus.Labels{"reason": reason}).Inc()
}

// RecordTenantError records a tenant-related error
func RecordTenantError(tenantID, errorType string) {
	TenantErrorCounter.With(prometheus.Labels{
		"tenant_id":  tenantID,
		"error_type": errorType,
	}).Inc()
}

// SetOpenHandles updates the open partition handles gauge
func SetOpenHandles(count int) {
	OpenHandlesGauge.Set(float64(count))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
