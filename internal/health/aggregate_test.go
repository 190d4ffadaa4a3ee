package health

import (
	"testing"
	"time"
)

func TestAggregateAllHealthy(t *testing.T) {
	now := time.Now()
	report := Aggregate(Inputs{
		DeviceLastSuccess: now,
		StoreEnabled:      true,
		Store:             SinkState{LastSuccess: now},
		BusEnabled:        true,
		BusConnected:      true,
		Bus:               SinkState{LastSuccess: now},
		RecoveryEnabled:   true,
		LastPoll:          now,
		LastSuccess:       now,
		LoopRunning:       true,
	})

	if !report.Overall {
		t.Error("overall false with every component healthy")
	}
	for name, c := range report.Components {
		if !c.Healthy {
			t.Errorf("component %s unhealthy: %s", name, c.Detail)
		}
	}
	if !report.BackgroundLoopRunning {
		t.Error("loop flag lost")
	}
}

func TestAggregateDeviceFailureFlipsOverall(t *testing.T) {
	report := Aggregate(Inputs{
		DeviceError:         "backoff active after 3 connection failures",
		ConsecutiveFailures: 3,
	})

	if report.Overall {
		t.Error("overall true with unreachable gateway")
	}
	gw := report.Components["gateway"]
	if gw.Healthy {
		t.Error("gateway component healthy despite error")
	}
	if gw.Detail == "" {
		t.Error("gateway detail missing")
	}
	if report.ConsecutiveFailures != 3 {
		t.Errorf("consecutive failures = %d", report.ConsecutiveFailures)
	}
}

// Disabled features report healthy with an explanatory detail; they must not
// drag down the overall verdict.
func TestAggregateDisabledFeaturesHealthy(t *testing.T) {
	report := Aggregate(Inputs{})

	for _, name := range []string{"influxdb", "mqtt", "wifi"} {
		c := report.Components[name]
		if !c.Healthy {
			t.Errorf("disabled %s reported unhealthy", name)
		}
		if c.Detail == "" {
			t.Errorf("disabled %s has no explanatory detail", name)
		}
	}
	if !report.Overall {
		t.Error("overall false with only disabled features")
	}
}

func TestAggregateBusRequiresConnection(t *testing.T) {
	report := Aggregate(Inputs{
		BusEnabled:   true,
		BusConnected: false,
	})

	bus := report.Components["mqtt"]
	if bus.Healthy {
		t.Error("disconnected bus reported healthy")
	}
	if bus.Detail != "MQTT not connected" {
		t.Errorf("detail = %q", bus.Detail)
	}
	if report.Overall {
		t.Error("overall true with disconnected bus")
	}
}

func TestAggregateSinkErrorDoesNotTouchGateway(t *testing.T) {
	now := time.Now()
	report := Aggregate(Inputs{
		DeviceLastSuccess: now,
		StoreEnabled:      true,
		Store:             SinkState{LastError: "influx 500"},
	})

	if report.Components["gateway"].Healthy != true {
		t.Error("gateway affected by sink failure")
	}
	if report.Components["influxdb"].Healthy {
		t.Error("failing store reported healthy")
	}
	if report.Overall {
		t.Error("overall true with failing store")
	}
}

func TestAggregateZeroTimesOmitted(t *testing.T) {
	report := Aggregate(Inputs{})
	if report.LastPollTime != nil || report.LastSuccessTime != nil {
		t.Error("zero times not omitted")
	}
	if report.Components["gateway"].LastSuccess != nil {
		t.Error("zero gateway success time not omitted")
	}
}
