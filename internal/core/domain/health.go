package domain

import "time"

// ComponentHealth is the derived health view of a single dependency.
type ComponentHealth struct {
	Name        string     `json:"name"`
	Healthy     bool       `json:"healthy"`
	Detail      string     `json:"detail,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// HealthReport is a point-in-time projection of service health. It is
// computed on demand from the last poll outcome and never mutated in place.
type HealthReport struct {
	Overall               bool                       `json:"overall"`
	Components            map[string]ComponentHealth `json:"components"`
	LastPollTime          *time.Time                 `json:"last_poll_time,omitempty"`
	LastSuccessTime       *time.Time                 `json:"last_success_time,omitempty"`
	ConsecutiveFailures   int                        `json:"consecutive_failures"`
	BackgroundLoopRunning bool                       `json:"background_loop_running"`
}
