// Package health derives the consolidated health report. It is a pure
// projection over state owned elsewhere and keeps no failure state of its
// own.
package health

import (
	"time"

	"github.com/vietddude/powermon/internal/core/domain"
)

// SinkState is the last known result for one downstream sink.
type SinkState struct {
	LastError   string
	LastSuccess time.Time
}

// Inputs is everything the projection needs, collected by the scheduler at
// report time.
type Inputs struct {
	DeviceError       string
	DeviceLastSuccess time.Time

	Store        SinkState
	StoreEnabled bool

	Bus          SinkState
	BusEnabled   bool
	BusConnected bool

	RecoveryEnabled     bool
	RecoveryLastError   string
	RecoveryLastSuccess time.Time

	LastPoll            time.Time
	LastSuccess         time.Time
	ConsecutiveFailures int
	LoopRunning         bool
}

// Aggregate computes the report. A dependency is healthy exactly when it has
// no recorded error; the one exception is a disabled feature, which reports
// healthy with an explanatory detail instead of unknown.
func Aggregate(in Inputs) domain.HealthReport {
	components := map[string]domain.ComponentHealth{
		"gateway": {
			Name:        "gateway",
			Healthy:     in.DeviceError == "",
			Detail:      in.DeviceError,
			LastSuccess: timePtr(in.DeviceLastSuccess),
			LastError:   in.DeviceError,
		},
		"influxdb": storeComponent(in),
		"mqtt":     busComponent(in),
		"wifi":     recoveryComponent(in),
	}

	overall := true
	for _, c := range components {
		if !c.Healthy {
			overall = false
			break
		}
	}

	return domain.HealthReport{
		Overall:               overall,
		Components:            components,
		LastPollTime:          timePtr(in.LastPoll),
		LastSuccessTime:       timePtr(in.LastSuccess),
		ConsecutiveFailures:   in.ConsecutiveFailures,
		BackgroundLoopRunning: in.LoopRunning,
	}
}

func storeComponent(in Inputs) domain.ComponentHealth {
	if !in.StoreEnabled {
		return domain.ComponentHealth{
			Name:    "influxdb",
			Healthy: true,
			Detail:  "InfluxDB push disabled",
		}
	}
	return domain.ComponentHealth{
		Name:        "influxdb",
		Healthy:     in.Store.LastError == "",
		Detail:      in.Store.LastError,
		LastSuccess: timePtr(in.Store.LastSuccess),
		LastError:   in.Store.LastError,
	}
}

func busComponent(in Inputs) domain.ComponentHealth {
	if !in.BusEnabled {
		return domain.ComponentHealth{
			Name:    "mqtt",
			Healthy: true,
			Detail:  "MQTT disabled",
		}
	}
	healthy := in.Bus.LastError == "" && in.BusConnected
	detail := in.Bus.LastError
	if detail == "" && !in.BusConnected {
		detail = "MQTT not connected"
	}
	return domain.ComponentHealth{
		Name:        "mqtt",
		Healthy:     healthy,
		Detail:      detail,
		LastSuccess: timePtr(in.Bus.LastSuccess),
		LastError:   in.Bus.LastError,
	}
}

func recoveryComponent(in Inputs) domain.ComponentHealth {
	if !in.RecoveryEnabled {
		return domain.ComponentHealth{
			Name:    "wifi",
			Healthy: true,
			Detail:  "Wi-Fi reconnect disabled",
		}
	}
	return domain.ComponentHealth{
		Name:        "wifi",
		Healthy:     in.RecoveryLastError == "",
		Detail:      in.RecoveryLastError,
		LastSuccess: timePtr(in.RecoveryLastSuccess),
		LastError:   in.RecoveryLastError,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
