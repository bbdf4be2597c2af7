package safety

import (
	"aura-monitor/common"
	"aura-monitor/geo"
)

const (
	GeofenceRadius = 500.0 // метры
	MinVoltage     = 2.5   // вольты
	SpeedLimit     = 80.0  // км/ч
)

// Thresholds пороги каскада проверок
type Thresholds struct {
	GeofenceRadiusM float64 `mapstructure:"geofence_radius_m"`
	MinVoltage      float64 `mapstructure:"min_voltage"`
	SpeedLimitKmh   float64 `mapstructure:"speed_limit_kmh"`
}

// DefaultThresholds возвращает пороги по умолчанию
func DefaultThresholds() Thresholds {
	return Thresholds{
		GeofenceRadiusM: GeofenceRadius,
		MinVoltage:      MinVoltage,
		SpeedLimitKmh:   SpeedLimit,
	}
}

// Evaluate вычисляет статус с порогами по умолчанию
func Evaluate(snap *common.Snapshot, ref *geo.Point) Status {
	return DefaultThresholds().Evaluate(snap, ref)
}

// Evaluate вычисляет статус по снимку и опорной точке.
// Проверки идут строго по приоритету, первая сработавшая завершает каскад.
// Все сравнения строгие: значение на границе тревогу не вызывает.
func (t Thresholds) Evaluate(snap *common.Snapshot, ref *geo.Point) Status {
	if snap == nil {
		return NoData
	}

	vehicle, ok := snap.Position()
	if !ok {
		return NoGps
	}

	if ref == nil {
		return WaitingReference
	}

	if geo.Distance(vehicle, *ref) > t.GeofenceRadiusM {
		return GeofenceBreach
	}

	switch {
	case snap.Voltage < t.MinVoltage:
		return LowVoltage
	case snap.SpeedKmh > t.SpeedLimitKmh:
		return OverSpeed
	case !snap.IgnitionOn:
		return IgnitionOff
	default:
		return Safe
	}
}
