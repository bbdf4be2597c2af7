package location

import (
	"errors"
	"log"
	"os"
	"sync"

	"aura-monitor/common"
	"aura-monitor/geo"
	"aura-monitor/metrics"
)

var logger = log.New(os.Stdout, "[Location-Tracker] ", log.LstdFlags|log.Lshortfile)

// Source представляет источник отметок местоположения оператора.
// Источник сам проталкивает отметки в out, пока не будет остановлен.
type Source interface {
	Start(out chan<- common.Fix) error
	Stop() error
	Name() string
}

// Tracker превращает отметки источника в опорные точки геозоны.
// Пока нет ни одной отметки, опорной точки нет; таймаута ожидания нет.
type Tracker struct {
	source  Source
	metrics *metrics.Metrics
	fixes   chan common.Fix
	out     chan geo.Point

	lifeMu   sync.Mutex
	started  bool
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewTracker создает трекер поверх source
func NewTracker(source Source, m *metrics.Metrics) *Tracker {
	return &Tracker{
		source:   source,
		metrics:  m,
		fixes:    make(chan common.Fix, 16),
		out:      make(chan geo.Point, 4),
		stopChan: make(chan struct{}),
	}
}

// Points возвращает канал опорных точек
func (t *Tracker) Points() <-chan geo.Point {
	return t.out
}

// Start подписывается на источник
func (t *Tracker) Start() error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if t.stopped {
		return errors.New("tracker already stopped")
	}
	if t.started {
		return nil
	}

	logger.Printf("Starting location tracker, source: %s", t.source.Name())

	t.wg.Add(1)
	go t.forwardLoop()

	if err := t.source.Start(t.fixes); err != nil {
		return err
	}
	t.started = true
	return nil
}

// Stop отписывается от источника и завершает пересылку
func (t *Tracker) Stop() error {
	t.lifeMu.Lock()
	if t.stopped {
		t.lifeMu.Unlock()
		return nil
	}
	t.stopped = true
	started := t.started
	t.lifeMu.Unlock()

	var err error
	if started {
		err = t.source.Stop()
	}
	close(t.stopChan)
	t.wg.Wait()

	logger.Println("Location tracker stopped")
	return err
}

func (t *Tracker) forwardLoop() {
	defer t.wg.Done()

	first := true
	for {
		select {
		case <-t.stopChan:
			return
		case fix := <-t.fixes:
			point := fix.Point()
			if !point.Valid() {
				logger.Printf("Ignoring invalid fix from %s: %.6f,%.6f", fix.Source, fix.Latitude, fix.Longitude)
				continue
			}

			if first {
				logger.Printf("First location fix: %.6f,%.6f (source %s)", point.Lat, point.Lon, fix.Source)
				first = false
			}
			t.metrics.IncFix(fix.Source)

			select {
			case t.out <- point:
			case <-t.stopChan:
				return
			}
		}
	}
}

// StaticSource отдаёт одну заданную в конфигурации точку
type StaticSource struct {
	point geo.Point
}

// NewStaticSource создает источник с фиксированной точкой
func NewStaticSource(point geo.Point) *StaticSource {
	return &StaticSource{point: point}
}

func (s *StaticSource) Start(out chan<- common.Fix) error {
	select {
	case out <- common.Fix{Latitude: s.point.Lat, Longitude: s.point.Lon, Source: s.Name()}:
	default:
		logger.Println("Warning: fixes channel is full, dropping static fix")
	}
	return nil
}

func (s *StaticSource) Stop() error { return nil }

func (s *StaticSource) Name() string { return "static" }
