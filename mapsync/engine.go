package mapsync

import (
	"errors"
	"log"
	"os"
	"sync"

	"aura-monitor/geo"
	"aura-monitor/safety"
)

var logger = log.New(os.Stdout, "[Map-Sync] ", log.LstdFlags|log.Lshortfile)

// Config представляет конфигурацию карты
type Config struct {
	Zoom        int       `mapstructure:"zoom"`          // Начальный масштаб
	OpenOnStart bool      `mapstructure:"open_on_start"` // Открыть карту сразу, не дожидаясь координат
	Fallback    geo.Point `mapstructure:"fallback"`      // Центр карты, пока координат нет
	RadiusM     float64   `mapstructure:"radius_m"`      // Радиус окружности геозоны
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Zoom:     15,
		Fallback: geo.Point{Lat: 12.9716, Lon: 77.5946},
		RadiusM:  safety.GeofenceRadius,
	}
}

// Engine приводит карту к текущему состоянию панели минимальным числом операций.
// Повторный Sync с теми же данными не вызывает ни одного примитива.
type Engine struct {
	config  Config
	surface Surface

	mu      sync.Mutex
	opened  bool
	center  geo.Point
	markers map[MarkerID]geo.Point
	drawn   bool
	circle  geo.Point
	color   string
}

// NewEngine создает движок поверх surface
func NewEngine(config Config, surface Surface) *Engine {
	return &Engine{
		config:  config,
		surface: surface,
		markers: make(map[MarkerID]geo.Point),
	}
}

// Open открывает карту в точке по умолчанию, если она ещё не открыта
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open(e.config.Fallback)
}

func (e *Engine) open(center geo.Point) error {
	if e.opened {
		return nil
	}
	if err := e.surface.Open(center, e.config.Zoom); err != nil {
		return err
	}
	e.opened = true
	e.center = center
	logger.Printf("Map opened at %.6f,%.6f", center.Lat, center.Lon)
	return nil
}

// Sync отражает положение автомобиля, опорную точку и статус на карте
func (e *Engine) Sync(vehicle, ref *geo.Point, status safety.Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.opened {
		switch {
		case ref != nil:
			if err := e.open(*ref); err != nil {
				return err
			}
		case vehicle != nil:
			if err := e.open(*vehicle); err != nil {
				return err
			}
		default:
			return nil
		}
	}

	var errs []error
	if vehicle != nil {
		errs = append(errs, e.syncMarker(VehicleMarker, *vehicle))
	}
	if ref != nil {
		errs = append(errs, e.syncMarker(OperatorMarker, *ref))
		errs = append(errs, e.syncCircle(*ref, status))
		if e.center != *ref {
			if err := e.surface.Recenter(*ref); err != nil {
				errs = append(errs, err)
			} else {
				e.center = *ref
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) syncMarker(id MarkerID, at geo.Point) error {
	prev, placed := e.markers[id]
	switch {
	case !placed:
		if err := e.surface.PlaceMarker(id, at); err != nil {
			return err
		}
	case prev != at:
		if err := e.surface.MoveMarker(id, at); err != nil {
			return err
		}
	default:
		return nil
	}
	e.markers[id] = at
	return nil
}

func circleColor(status safety.Status) string {
	if status == safety.GeofenceBreach {
		return BreachColor
	}
	return SafeColor
}

func (e *Engine) syncCircle(center geo.Point, status safety.Status) error {
	color := circleColor(status)

	if !e.drawn {
		if err := e.surface.DrawCircle(center, e.config.RadiusM, color); err != nil {
			return err
		}
		e.drawn = true
		e.circle = center
		e.color = color
		return nil
	}

	var errs []error
	if e.circle != center {
		if err := e.surface.MoveCircle(center); err != nil {
			errs = append(errs, err)
		} else {
			e.circle = center
		}
	}
	if e.color != color {
		if err := e.surface.RecolorCircle(color); err != nil {
			errs = append(errs, err)
		} else {
			e.color = color
		}
	}
	return errors.Join(errs...)
}

// Release освобождает карту; повторный вызов ничего не делает
func (e *Engine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.opened {
		return nil
	}
	e.opened = false
	e.drawn = false
	e.markers = make(map[MarkerID]geo.Point)
	logger.Println("Map released")
	return e.surface.Release()
}
