package domain

import "time"

// PollOutcome records one complete poll cycle: the snapshot (if the gateway
// answered), the device error (if it did not), and the per-sink results.
// Only the most recent outcome is retained in memory; the optional archive
// keeps history.
type PollOutcome struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Snapshot  *Snapshot     `json:"snapshot,omitempty"`

	DeviceError string `json:"device_error,omitempty"`
	StoreError  string `json:"store_error,omitempty"`
	BusError    string `json:"bus_error,omitempty"`

	PushedStore  bool `json:"pushed_store"`
	PublishedBus bool `json:"published_bus"`
}

// Success reports whether the gateway side of the cycle succeeded. Sink
// failures are tracked separately and do not fail the cycle.
func (o *PollOutcome) Success() bool {
	return o.Snapshot != nil && o.DeviceError == ""
}
