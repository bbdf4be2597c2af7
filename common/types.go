package common

import (
	"time"

	"aura-monitor/geo"
)

// Snapshot представляет одно считанное состояние автомобиля.
// Значение неизменяемо: следующий опрос создаёт новый Snapshot.
// Latitude и Longitude равны nil, пока трекер не сообщил координаты.
type Snapshot struct {
	IMEI         string    `json:"imei"`
	FrameID      int       `json:"frame"`
	OperatorName string    `json:"operator"`
	Signal       int       `json:"signal"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	SpeedKmh     float64   `json:"speed"`
	IgnitionOn   bool      `json:"ignition"`
	Immobilized  bool      `json:"immobilizer"`
	Voltage      float64   `json:"voltage"`
	DeviceTime   int64     `json:"timestamp"`
	ServerTime   int64     `json:"server_time"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Position возвращает координаты автомобиля, если обе известны
func (s Snapshot) Position() (geo.Point, bool) {
	if s.Latitude == nil || s.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *s.Latitude, Lon: *s.Longitude}, true
}

// Fix представляет одну отметку местоположения оператора
type Fix struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Accuracy  float64   `json:"acc"` // Точность в метрах, 0 если неизвестна
	Timestamp time.Time `json:"tst"` // Время отметки
	Source    string    `json:"src"` // Источник: "nmea", "mqtt", "static"
}

// Point возвращает отметку как географическую точку
func (f Fix) Point() geo.Point {
	return geo.Point{Lat: f.Latitude, Lon: f.Longitude}
}

// CommandKind определяет тип команды исполнительному устройству
type CommandKind string

const (
	CommandImmobilize   CommandKind = "immobilize"
	CommandRelease      CommandKind = "release"
	CommandSetFrequency CommandKind = "set_frequency"
)

// CommandRequest представляет одну исходящую команду.
// Идентификатора нет: результат виден только в следующем снимке.
type CommandRequest struct {
	Kind    CommandKind `json:"kind"`
	Payload int         `json:"payload"` // state для иммобилайзера, секунды для частоты
}

// StatusEvent публикуется после каждого изменения состояния панели
type StatusEvent struct {
	Status      string     `json:"status"`
	Severity    string     `json:"severity"`
	Description string     `json:"description"`
	IMEI        string     `json:"imei,omitempty"`
	Vehicle     *geo.Point `json:"vehicle,omitempty"`
	Reference   *geo.Point `json:"reference,omitempty"`
	DistanceM   *float64   `json:"distance_m,omitempty"`
	SpeedKmh    float64    `json:"speed"`
	Voltage     float64    `json:"voltage"`
	IgnitionOn  bool       `json:"ignition"`
	Immobilized bool       `json:"immobilizer"`
	Timestamp   time.Time  `json:"timestamp"`
}
