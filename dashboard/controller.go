package dashboard

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"aura-monitor/common"
	"aura-monitor/geo"
	"aura-monitor/metrics"
	"aura-monitor/safety"
	"aura-monitor/telemetry"
)

var logger = log.New(os.Stdout, "[Dashboard] ", log.LstdFlags|log.Lshortfile)

var (
	ErrNoSnapshot = errors.New("no telemetry snapshot yet")
	ErrNotRunning = errors.New("dashboard is not running")
)

// Poller источник результатов опроса телеметрии
type Poller interface {
	Start() error
	Stop() error
	Readings() <-chan telemetry.Reading
}

// Tracker источник опорных точек геозоны
type Tracker interface {
	Start() error
	Stop() error
	Points() <-chan geo.Point
}

// Dispatcher отправляет команды на бэкенд
type Dispatcher interface {
	Start() error
	Stop() error
	ToggleImmobilizer(snap common.Snapshot) error
	SetFrequency(value int) error
}

// MapSync отражает состояние на карте
type MapSync interface {
	Open() error
	Sync(vehicle, ref *geo.Point, status safety.Status) error
	Release() error
}

// StatusSink получает событие после каждого изменения состояния
type StatusSink interface {
	PublishStatus(ev common.StatusEvent)
}

// Config представляет конфигурацию панели
type Config struct {
	Thresholds safety.Thresholds `mapstructure:"thresholds"`
	OpenMap    bool              `mapstructure:"open_map"` // Открыть карту при старте, не дожидаясь координат
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{Thresholds: safety.DefaultThresholds()}
}

// state запись состояния приложения; меняется только в горутине loop
type state struct {
	snapshot   *common.Snapshot
	reference  *geo.Point
	status     safety.Status
	pollErr    error
	lastUpdate time.Time
}

type request struct {
	run   func(st *state) error
	reply chan error
}

// Controller связывает опрос, геолокацию, оценку безопасности, карту и команды
type Controller struct {
	config     Config
	poller     Poller
	tracker    Tracker
	dispatcher Dispatcher
	mapSync    MapSync
	sinks      []StatusSink
	metrics    *metrics.Metrics

	requests chan request

	viewMu sync.RWMutex
	view   View

	lifeMu   sync.Mutex
	started  bool
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewController создает контроллер панели
func NewController(config Config, poller Poller, tracker Tracker, dispatcher Dispatcher, mapSync MapSync, m *metrics.Metrics, sinks ...StatusSink) *Controller {
	c := &Controller{
		config:     config,
		poller:     poller,
		tracker:    tracker,
		dispatcher: dispatcher,
		mapSync:    mapSync,
		sinks:      sinks,
		metrics:    m,
		requests:   make(chan request),
		stopChan:   make(chan struct{}),
	}
	c.view = c.project(&state{status: safety.NoData})
	return c
}

// Start запускает цикл событий и все компоненты.
// При ошибке уже запущенное останавливается.
func (c *Controller) Start() error {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		return ErrNotRunning
	}
	if c.started {
		c.lifeMu.Unlock()
		return nil
	}
	c.started = true
	c.wg.Add(1)
	go c.loop()
	c.lifeMu.Unlock()

	logger.Println("Starting dashboard")

	if c.config.OpenMap {
		if err := c.mapSync.Open(); err != nil {
			logger.Printf("Failed to open map: %v", err)
		}
	}

	if err := c.dispatcher.Start(); err != nil {
		return c.abort(fmt.Errorf("start dispatcher: %w", err))
	}
	if err := c.tracker.Start(); err != nil {
		return c.abort(fmt.Errorf("start tracker: %w", err))
	}
	if err := c.poller.Start(); err != nil {
		return c.abort(fmt.Errorf("start poller: %w", err))
	}

	logger.Println("Dashboard started")
	return nil
}

func (c *Controller) abort(err error) error {
	if stopErr := c.Stop(); stopErr != nil {
		return errors.Join(err, stopErr)
	}
	return err
}

// Stop останавливает опрос, геолокацию, отправку команд и освобождает карту.
// Безопасен для повторного вызова и вызова без Start.
func (c *Controller) Stop() error {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	c.lifeMu.Unlock()

	logger.Println("Stopping dashboard...")

	errs := []error{
		c.poller.Stop(),
		c.tracker.Stop(),
		c.dispatcher.Stop(),
	}

	close(c.stopChan)
	if started {
		c.wg.Wait()
	}

	errs = append(errs, c.mapSync.Release())

	logger.Println("Dashboard stopped")
	return errors.Join(errs...)
}

// View возвращает копию текущего представления
func (c *Controller) View() View {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view.clone()
}

// ToggleImmobilizer отправляет команду, противоположную состоянию последнего снимка
func (c *Controller) ToggleImmobilizer() error {
	return c.submit(func(st *state) error {
		if st.snapshot == nil {
			return ErrNoSnapshot
		}
		return c.dispatcher.ToggleImmobilizer(*st.snapshot)
	})
}

// SetFrequency меняет период отчётов трекера
func (c *Controller) SetFrequency(value int) error {
	return c.submit(func(st *state) error {
		return c.dispatcher.SetFrequency(value)
	})
}

func (c *Controller) submit(run func(st *state) error) error {
	req := request{run: run, reply: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.stopChan:
		return ErrNotRunning
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.stopChan:
		return ErrNotRunning
	}
}

func (c *Controller) loop() {
	defer c.wg.Done()

	st := &state{status: safety.NoData}
	for {
		select {
		case <-c.stopChan:
			return
		case r := <-c.poller.Readings():
			c.applyReading(st, r)
			c.publish(st)
		case p := <-c.tracker.Points():
			c.applyReference(st, p)
			c.publish(st)
		case req := <-c.requests:
			req.reply <- req.run(st)
		}
	}
}

func (c *Controller) applyReading(st *state, r telemetry.Reading) {
	st.pollErr = r.Err

	switch {
	case r.Err == nil:
		st.snapshot = r.Snapshot
		st.lastUpdate = r.At
		st.status = c.config.Thresholds.Evaluate(st.snapshot, st.reference)
	case errors.Is(r.Err, telemetry.ErrNoData):
		// Поля последнего удачного снимка остаются на экране
		st.status = safety.NoData
	default:
		st.status = safety.ServerError
	}
}

func (c *Controller) applyReference(st *state, p geo.Point) {
	ref := p
	st.reference = &ref

	// Ошибочный опрос определяет статус до следующего удачного
	if st.snapshot != nil && st.pollErr == nil {
		st.status = c.config.Thresholds.Evaluate(st.snapshot, st.reference)
	}
}

func (c *Controller) publish(st *state) {
	var vehicle *geo.Point
	if st.snapshot != nil {
		if p, ok := st.snapshot.Position(); ok {
			vehicle = &p
		}
	}
	if err := c.mapSync.Sync(vehicle, st.reference, st.status); err != nil {
		logger.Printf("Map sync failed: %v", err)
	}

	v := c.project(st)
	c.viewMu.Lock()
	prev := c.view.Status
	c.view = v
	c.viewMu.Unlock()

	if prev != v.Status {
		logger.Printf("Status: %s -> %s", prev, v.Status)
	}
	c.metrics.SetStatus(string(v.Status), statusNames())

	ev := v.clone().Event()
	for _, sink := range c.sinks {
		sink.PublishStatus(ev)
	}
}

func statusNames() []string {
	all := safety.Statuses()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = string(s)
	}
	return names
}
