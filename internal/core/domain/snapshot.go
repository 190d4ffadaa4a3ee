package domain

import "time"

// PowerFlows holds the instantaneous power quad reported by the gateway
// meters, in watts. Nil pointers mean the meter reading was absent.
type PowerFlows struct {
	Site    *float64 `json:"site,omitempty"`
	Solar   *float64 `json:"solar,omitempty"`
	Battery *float64 `json:"battery,omitempty"`
	Load    *float64 `json:"load,omitempty"`
}

// AllZero reports whether every present reading is exactly zero.
// An absent quad counts as all-zero too.
func (p *PowerFlows) AllZero() bool {
	if p == nil {
		return true
	}
	for _, v := range []*float64{p.Site, p.Solar, p.Battery, p.Load} {
		if v != nil && *v != 0 {
			return false
		}
	}
	return true
}

// Vitals is the raw per-device vitals tree keyed by device instance
// (e.g. "TEPOD--<din>") and attribute name.
type Vitals map[string]map[string]any

// Snapshot is one point-in-time bundle of gateway readings.
// It is immutable once assembled; a new value is built per poll cycle.
type Snapshot struct {
	Timestamp      time.Time   `json:"timestamp"`
	SiteName       string      `json:"site_name,omitempty"`
	Firmware       string      `json:"firmware,omitempty"`
	DIN            string      `json:"din,omitempty"`
	BatteryPercent *float64    `json:"battery_percentage,omitempty"`
	Power          *PowerFlows `json:"power,omitempty"`
	GridStatus     string      `json:"grid_status,omitempty"`
	Alerts         []string    `json:"alerts,omitempty"`
	Vitals         Vitals      `json:"vitals,omitempty"`

	// Derived from TEPOD vitals, keyed by DIN.
	BatteryNominalEnergyRemaining *float64 `json:"battery_nominal_energy_remaining,omitempty"`
	BatteryNominalFullEnergy      *float64 `json:"battery_nominal_full_energy,omitempty"`
}

// Valid reports whether the snapshot carries real data. The gateway is known
// to return well-formed but meaningless all-zero payloads during silent
// outages, so a snapshot with no core field, or with an all-zero power quad
// alongside empty identity fields, is treated as a failed fetch. A genuinely
// idle system still reports identity, so only a fully blank answer is
// rejected.
func (s *Snapshot) Valid() bool {
	if s.Power == nil && s.BatteryPercent == nil {
		return false
	}
	identityEmpty := s.SiteName == "" && s.Firmware == "" && s.DIN == ""
	batteryEmpty := s.BatteryPercent == nil || *s.BatteryPercent == 0
	if s.Power.AllZero() && batteryEmpty && identityEmpty {
		return false
	}
	return true
}
