package mapsync

import "aura-monitor/geo"

// MarkerID идентифицирует маркер на карте
type MarkerID string

const (
	VehicleMarker  MarkerID = "vehicle"
	OperatorMarker MarkerID = "operator"
)

const (
	BreachColor = "#ef4444"
	SafeColor   = "#4ade80"
)

// Surface набор примитивов карты, которыми пользуется Engine.
// Реализация может рисовать карту где угодно: в браузере, в тестах, в логах.
type Surface interface {
	Open(center geo.Point, zoom int) error
	PlaceMarker(id MarkerID, at geo.Point) error
	MoveMarker(id MarkerID, at geo.Point) error
	DrawCircle(center geo.Point, radiusM float64, color string) error
	MoveCircle(center geo.Point) error
	RecolorCircle(color string) error
	Recenter(center geo.Point) error
	Release() error
}
