package dashboard

import (
	"math"
	"time"

	"aura-monitor/common"
	"aura-monitor/geo"
	"aura-monitor/safety"
)

// View проекция состояния только для чтения.
// Все указатели ссылаются на копии, а не на состояние контроллера.
type View struct {
	Status          safety.Status    `json:"status"`
	Severity        safety.Severity  `json:"severity"`
	Description     string           `json:"description"`
	Snapshot        *common.Snapshot `json:"snapshot,omitempty"`
	Reference       *geo.Point       `json:"reference,omitempty"`
	DistanceM       *float64         `json:"distance_m,omitempty"`
	InsideGeofence  *bool            `json:"inside_geofence,omitempty"`
	VoltagePct      float64          `json:"voltage_pct"`
	ActionAvailable bool             `json:"action_available"`
	ActionLabel     string           `json:"action_label,omitempty"`
	PollError       string           `json:"poll_error,omitempty"`
	LastUpdate      time.Time        `json:"last_update"`
}

func (c *Controller) project(st *state) View {
	v := View{
		Status:      st.status,
		Severity:    st.status.Severity(),
		Description: st.status.Description(),
		LastUpdate:  st.lastUpdate,
	}
	if st.pollErr != nil {
		v.PollError = st.pollErr.Error()
	}
	if st.reference != nil {
		ref := *st.reference
		v.Reference = &ref
	}

	if st.snapshot == nil {
		return v
	}
	v.Snapshot = copySnapshot(st.snapshot)
	v.VoltagePct = voltagePercent(st.snapshot.Voltage)

	if vehicle, ok := st.snapshot.Position(); ok && st.reference != nil {
		d := geo.Distance(vehicle, *st.reference)
		inside := d <= c.config.Thresholds.GeofenceRadiusM
		v.DistanceM = &d
		v.InsideGeofence = &inside
	}

	v.ActionAvailable = st.status != safety.Safe
	if st.snapshot.Immobilized {
		v.ActionLabel = "Release Vehicle"
	} else {
		v.ActionLabel = "Immobilize Vehicle"
	}
	return v
}

// voltagePercent переводит напряжение 2..5 В в заряд 0..100%
func voltagePercent(voltage float64) float64 {
	return math.Min(100, math.Max(0, (voltage-2)/3*100))
}

func copySnapshot(s *common.Snapshot) *common.Snapshot {
	cp := *s
	if s.Latitude != nil {
		lat := *s.Latitude
		cp.Latitude = &lat
	}
	if s.Longitude != nil {
		lon := *s.Longitude
		cp.Longitude = &lon
	}
	return &cp
}

// Event превращает представление в событие статуса
func (v View) Event() common.StatusEvent {
	ev := common.StatusEvent{
		Status:      string(v.Status),
		Severity:    string(v.Severity),
		Description: v.Description,
		Reference:   v.Reference,
		DistanceM:   v.DistanceM,
		Timestamp:   time.Now(),
	}
	if s := v.Snapshot; s != nil {
		ev.IMEI = s.IMEI
		ev.SpeedKmh = s.SpeedKmh
		ev.Voltage = s.Voltage
		ev.IgnitionOn = s.IgnitionOn
		ev.Immobilized = s.Immobilized
		if p, ok := s.Position(); ok {
			ev.Vehicle = &p
		}
	}
	return ev
}

// clone копирует представление вместе с данными под указателями
func (v View) clone() View {
	if v.Snapshot != nil {
		v.Snapshot = copySnapshot(v.Snapshot)
	}
	if v.Reference != nil {
		ref := *v.Reference
		v.Reference = &ref
	}
	if v.DistanceM != nil {
		d := *v.DistanceM
		v.DistanceM = &d
	}
	if v.InsideGeofence != nil {
		in := *v.InsideGeofence
		v.InsideGeofence = &in
	}
	return v
}
