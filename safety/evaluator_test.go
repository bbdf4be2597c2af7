package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"aura-monitor/common"
	"aura-monitor/geo"
)

func ptr(v float64) *float64 { return &v }

// healthySnapshot возвращает снимок, который без опорной точки даёт Safe
func healthySnapshot(lat, lon float64) *common.Snapshot {
	return &common.Snapshot{
		Latitude:   ptr(lat),
		Longitude:  ptr(lon),
		SpeedKmh:   10,
		Voltage:    4.0,
		IgnitionOn: true,
	}
}

func TestEvaluateCascade(t *testing.T) {
	ref := &geo.Point{Lat: 0, Lon: 0}

	tests := []struct {
		name     string
		snap     *common.Snapshot
		ref      *geo.Point
		expected Status
	}{
		{
			name:     "No snapshot",
			snap:     nil,
			ref:      ref,
			expected: NoData,
		},
		{
			name:     "Missing latitude beats low voltage",
			snap:     &common.Snapshot{Longitude: ptr(0), Voltage: 1.0},
			ref:      ref,
			expected: NoGps,
		},
		{
			name:     "Missing longitude",
			snap:     &common.Snapshot{Latitude: ptr(0), Voltage: 4.0},
			ref:      ref,
			expected: NoGps,
		},
		{
			name:     "No reference yet",
			snap:     healthySnapshot(0, 0),
			ref:      nil,
			expected: WaitingReference,
		},
		{
			name: "Breach dominates every mechanical alert",
			snap: &common.Snapshot{
				Latitude:  ptr(0),
				Longitude: ptr(0.01),
				Voltage:   1.0,
				SpeedKmh:  200,
			},
			ref:      ref,
			expected: GeofenceBreach,
		},
		{
			name: "Low voltage beats over speed",
			snap: &common.Snapshot{
				Latitude:   ptr(0),
				Longitude:  ptr(0),
				Voltage:    2.0,
				SpeedKmh:   120,
				IgnitionOn: true,
			},
			ref:      ref,
			expected: LowVoltage,
		},
		{
			name: "Over speed beats ignition off",
			snap: &common.Snapshot{
				Latitude:  ptr(0),
				Longitude: ptr(0),
				Voltage:   4.0,
				SpeedKmh:  81,
			},
			ref:      ref,
			expected: OverSpeed,
		},
		{
			name: "Ignition off",
			snap: &common.Snapshot{
				Latitude:  ptr(0),
				Longitude: ptr(0),
				Voltage:   4.0,
			},
			ref:      ref,
			expected: IgnitionOff,
		},
		{
			name:     "Safe inside geofence",
			snap:     healthySnapshot(0, 0.001),
			ref:      ref,
			expected: Safe,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Evaluate(tt.snap, tt.ref))
		})
	}
}

func TestEvaluateBoundaries(t *testing.T) {
	ref := &geo.Point{Lat: 0, Lon: 0}

	tests := []struct {
		name     string
		voltage  float64
		speed    float64
		expected Status
	}{
		{"Voltage exactly at threshold", 2.5, 10, Safe},
		{"Voltage just below threshold", 2.4999, 10, LowVoltage},
		{"Speed exactly at limit", 4.0, 80, Safe},
		{"Speed just above limit", 4.0, 80.01, OverSpeed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := healthySnapshot(0, 0)
			snap.Voltage = tt.voltage
			snap.SpeedKmh = tt.speed
			assert.Equal(t, tt.expected, Evaluate(snap, ref))
		})
	}
}

func TestEvaluateVehicleAtReferenceNeverBreaches(t *testing.T) {
	ref := geo.Point{Lat: 12.9716, Lon: 77.5946}

	snaps := []*common.Snapshot{
		{Latitude: ptr(ref.Lat), Longitude: ptr(ref.Lon)},
		{Latitude: ptr(ref.Lat), Longitude: ptr(ref.Lon), Voltage: 0, SpeedKmh: 300},
		{Latitude: ptr(ref.Lat), Longitude: ptr(ref.Lon), Voltage: 12, IgnitionOn: true, Immobilized: true},
	}

	for _, snap := range snaps {
		assert.NotEqual(t, GeofenceBreach, Evaluate(snap, &ref))
	}
}

func TestEvaluateBangaloreBreach(t *testing.T) {
	ref := &geo.Point{Lat: 12.9716, Lon: 77.5946}
	snap := &common.Snapshot{
		Latitude:   ptr(12.9716),
		Longitude:  ptr(77.6050),
		IgnitionOn: true,
		SpeedKmh:   0,
		Voltage:    4.0,
	}

	assert.Greater(t, geo.Distance(geo.Point{Lat: 12.9716, Lon: 77.6050}, *ref), GeofenceRadius)
	assert.Equal(t, GeofenceBreach, Evaluate(snap, ref))
}

func TestEvaluateZeroCoordinatesArePresent(t *testing.T) {
	// (0, 0) это реальная точка, а не отсутствие координат
	ref := &geo.Point{Lat: 0, Lon: 0}
	assert.Equal(t, Safe, Evaluate(healthySnapshot(0, 0), ref))
}

func TestThresholdsOverride(t *testing.T) {
	th := DefaultThresholds()
	th.GeofenceRadiusM = 50

	ref := &geo.Point{Lat: 0, Lon: 0}
	snap := healthySnapshot(0, 0.001) // ~111 м

	assert.Equal(t, Safe, Evaluate(snap, ref))
	assert.Equal(t, GeofenceBreach, th.Evaluate(snap, ref))
}

func TestStatusSeverityAndDescription(t *testing.T) {
	assert.Equal(t, SeveritySafe, Safe.Severity())
	assert.Equal(t, SeverityWarn, IgnitionOff.Severity())
	assert.Equal(t, SeverityAlert, GeofenceBreach.Severity())
	assert.Equal(t, SeverityAlert, ServerError.Severity())

	for _, s := range Statuses() {
		assert.NotEmpty(t, s.Description(), "status %s has no description", s)
	}
}
