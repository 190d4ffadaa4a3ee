package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollCycles counts completed poll cycles by result.
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powermon_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		},
		[]string{"result"},
	)

	// PollDuration tracks end-to-end poll cycle latency.
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "powermon_poll_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// GatewayFailures counts classified gateway failures.
	GatewayFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powermon_gateway_failures_total",
			Help: "Total number of gateway failures by classification",
		},
		[]string{"kind"},
	)

	// SinkErrors counts failed writes to the downstream sinks.
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powermon_sink_errors_total",
			Help: "Total number of sink write failures",
		},
		[]string{"sink"},
	)

	// ConsecutiveFailures mirrors the scheduler's failure streak.
	ConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "powermon_consecutive_failures",
			Help: "Consecutive failed poll cycles",
		},
	)

	// SessionGeneration tracks the current gateway session generation.
	SessionGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "powermon_session_generation",
			Help: "Monotonic generation of the current gateway session",
		},
	)

	// RejoinAttempts counts Wi-Fi rejoin attempts by result.
	RejoinAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powermon_wifi_rejoin_attempts_total",
			Help: "Total number of Wi-Fi rejoin attempts",
		},
		[]string{"result"},
	)

	// BatteryPercent exposes the last observed battery charge.
	BatteryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "powermon_battery_percent",
			Help: "Last observed battery charge percentage",
		},
	)
)
