// Package sink holds the shared snapshot-to-metric flattening used by every
// downstream sink, so the store and the bus always agree on names and values.
package sink

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vietddude/powermon/internal/core/domain"
)

var pvStrings = []string{"A", "B", "C", "D", "E", "F"}

// Fields flattens a snapshot into metric name to value. Values are float64,
// int, string, or bool. Absent readings produce no entry.
func Fields(s *domain.Snapshot) map[string]any {
	fields := make(map[string]any)

	putFloat(fields, "battery_percentage", s.BatteryPercent)
	if s.Power != nil {
		putFloat(fields, "site_power_w", s.Power.Site)
		putFloat(fields, "solar_power_w", s.Power.Solar)
		putFloat(fields, "battery_power_w", s.Power.Battery)
		putFloat(fields, "load_power_w", s.Power.Load)
	}
	putFloat(fields, "battery_nominal_energy_remaining_wh", s.BatteryNominalEnergyRemaining)
	putFloat(fields, "battery_nominal_full_energy_wh", s.BatteryNominalFullEnergy)

	if s.Alerts != nil {
		fields["alerts_count"] = len(s.Alerts)
		if len(s.Alerts) > 0 {
			sorted := append([]string(nil), s.Alerts...)
			sort.Strings(sorted)
			fields["alerts"] = strings.Join(sorted, ";")
		}
	}

	if s.GridStatus != "" {
		fields["grid_status"] = s.GridStatus
	}
	if s.DIN != "" {
		fields["din"] = s.DIN
	}

	addStringMetrics(fields, s)
	return fields
}

// SortedKeys returns the field names in stable order, for sinks that emit
// line-oriented output.
func SortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// addStringMetrics pulls the per-PV-string connection and electrical
// readings out of the PVS/PVAC vitals entries keyed by DIN.
func addStringMetrics(fields map[string]any, s *domain.Snapshot) {
	if s.Vitals == nil || s.DIN == "" {
		return
	}

	if pvs, ok := s.Vitals["PVS--"+s.DIN]; ok {
		for _, letter := range pvStrings {
			key := fmt.Sprintf("PVS_String%s_Connected", letter)
			if v, ok := pvs[key]; ok {
				fields[fmt.Sprintf("string_string%s_connected", strings.ToLower(letter))] = v
			}
		}
	}

	pvac, ok := s.Vitals["PVAC--"+s.DIN]
	if !ok {
		return
	}
	for _, letter := range pvStrings {
		prefix := "string_" + strings.ToLower(letter)
		if v, ok := pvac["PVAC_PvState_"+letter]; ok {
			fields[prefix+"_state"] = v
		}
		if v, ok := toFloat(pvac["PVAC_PVMeasuredVoltage_"+letter]); ok {
			fields[prefix+"_voltage_v"] = v
		}
		if v, ok := toFloat(pvac["PVAC_PVCurrent_"+letter]); ok {
			fields[prefix+"_current_a"] = v
		}
		if v, ok := toFloat(pvac["PVAC_PVMeasuredPower_"+letter]); ok {
			fields[prefix+"_power_w"] = v
		}
	}
}

func putFloat(fields map[string]any, name string, v *float64) {
	if v != nil {
		fields[name] = *v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
