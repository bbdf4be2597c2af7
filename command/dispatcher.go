package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"aura-monitor/common"
	"aura-monitor/metrics"
)

var logger = log.New(os.Stdout, "[Command-Dispatcher] ", log.LstdFlags|log.Lshortfile)

var (
	ErrQueueFull        = errors.New("command queue is full")
	ErrStopped          = errors.New("dispatcher is stopped")
	ErrInvalidFrequency = errors.New("frequency must be at least 1 second")
)

// Config представляет конфигурацию отправки команд
type Config struct {
	BaseURL      string        `mapstructure:"base_url"`      // Адрес бэкенда
	Token        string        `mapstructure:"token"`         // Токен сессии (опционально)
	Timeout      time.Duration `mapstructure:"timeout"`       // Таймаут одного запроса
	ConfirmDelay time.Duration `mapstructure:"confirm_delay"` // Задержка повторного опроса после команды
	QueueSize    int           `mapstructure:"queue_size"`    // Размер очереди команд
	Workers      int           `mapstructure:"workers"`       // Число горутин отправки
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:8000",
		Timeout:      10 * time.Second,
		ConfirmDelay: 500 * time.Millisecond,
		QueueSize:    16,
		Workers:      1,
	}
}

// Repoller запрашивает внеочередной опрос телеметрии
type Repoller interface {
	PollNow()
}

// Dispatcher отправляет команды на бэкенд без ожидания результата.
// Исход команды виден только в следующем снимке телеметрии.
type Dispatcher struct {
	config     Config
	httpClient *http.Client
	repoll     Repoller
	metrics    *metrics.Metrics
	tasks      chan common.CommandRequest

	ctx    context.Context
	cancel context.CancelFunc

	lifeMu   sync.Mutex
	started  bool
	stopped  bool
	timers   map[*time.Timer]struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher создает диспетчер команд
func NewDispatcher(config Config, repoll Repoller, m *metrics.Metrics) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		repoll:     repoll,
		metrics:    m,
		tasks:      make(chan common.CommandRequest, config.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		timers:     make(map[*time.Timer]struct{}),
		stopChan:   make(chan struct{}),
	}
}

// Start запускает горутины отправки
func (d *Dispatcher) Start() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if d.started {
		return nil
	}
	d.started = true

	logger.Printf("Starting command dispatcher: %d worker(s), queue %d", d.config.Workers, d.config.QueueSize)
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return nil
}

// Stop прекращает отправку и отменяет ожидающие повторные опросы
func (d *Dispatcher) Stop() error {
	d.lifeMu.Lock()
	if d.stopped {
		d.lifeMu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.stopChan)
	for t := range d.timers {
		t.Stop()
	}
	d.timers = nil
	d.lifeMu.Unlock()

	d.cancel()
	d.wg.Wait()
	logger.Println("Command dispatcher stopped")
	return nil
}

// ToggleImmobilizer запрашивает противоположное состояние иммобилайзера
func (d *Dispatcher) ToggleImmobilizer(snap common.Snapshot) error {
	req := common.CommandRequest{Kind: common.CommandImmobilize, Payload: 1}
	if snap.Immobilized {
		req = common.CommandRequest{Kind: common.CommandRelease, Payload: 0}
	}
	return d.enqueue(req)
}

// SetFrequency задаёт период отчётов трекера в секундах.
// Период опроса самой панели не меняется.
func (d *Dispatcher) SetFrequency(value int) error {
	if value < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidFrequency, value)
	}
	return d.enqueue(common.CommandRequest{Kind: common.CommandSetFrequency, Payload: value})
}

func (d *Dispatcher) enqueue(req common.CommandRequest) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.stopped {
		return ErrStopped
	}

	select {
	case d.tasks <- req:
		logger.Printf("Queued %s (payload %d)", req.Kind, req.Payload)
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			return
		case req := <-d.tasks:
			d.execute(req)
		}
	}
}

func (d *Dispatcher) execute(req common.CommandRequest) {
	path, body := route(req)

	if err := d.post(d.ctx, path, body); err != nil {
		d.metrics.IncCommand(string(req.Kind), metrics.CommandFailed)
		logger.Printf("Command %s failed: %v", req.Kind, err)
	} else {
		d.metrics.IncCommand(string(req.Kind), metrics.CommandSent)
		logger.Printf("Command %s sent", req.Kind)
	}

	// Смена иммобилайзера подтверждается повторным опросом при любом исходе
	if req.Kind == common.CommandImmobilize || req.Kind == common.CommandRelease {
		d.scheduleRepoll()
	}
}

// route возвращает путь и тело запроса для команды
func route(req common.CommandRequest) (string, interface{}) {
	switch req.Kind {
	case common.CommandSetFrequency:
		return "/api/frequency", map[string]int{"frequency": req.Payload}
	default:
		return "/api/immobilizer", map[string]int{"state": req.Payload}
	}
}

func (d *Dispatcher) scheduleRepoll() {
	if d.repoll == nil {
		return
	}

	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d.config.ConfirmDelay, func() {
		d.lifeMu.Lock()
		_, pending := d.timers[t]
		delete(d.timers, t)
		d.lifeMu.Unlock()
		if pending {
			d.repoll.PollNow()
		}
	})
	d.timers[t] = struct{}{}
}

func (d *Dispatcher) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	url := strings.TrimRight(d.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.Token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return nil
}
