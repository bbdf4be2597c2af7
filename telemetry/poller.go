package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aura-monitor/common"
	"aura-monitor/metrics"
)

var logger = log.New(os.Stdout, "[Telemetry-Poller] ", log.LstdFlags|log.Lshortfile)

// Config представляет конфигурацию опроса бэкенда
type Config struct {
	BaseURL  string        `mapstructure:"base_url"` // Адрес бэкенда, например "http://localhost:8000"
	Interval time.Duration `mapstructure:"interval"` // Период опроса панели
	Timeout  time.Duration `mapstructure:"timeout"`  // Таймаут одного запроса
	Token    string        `mapstructure:"token"`    // Токен сессии (опционально)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		BaseURL:  "http://localhost:8000",
		Interval: 3 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Reading результат одного опроса: либо Snapshot, либо Err
type Reading struct {
	Seq      uint64
	Snapshot *common.Snapshot
	Err      error
	At       time.Time
}

// Poller периодически запрашивает снимок телеметрии.
// Каждый запрос выполняется в своей горутине, поэтому медленный ответ
// не задерживает следующий тик. Ответ старше уже доставленного отбрасывается.
type Poller struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	out        chan Reading

	seq       atomic.Uint64
	deliverMu sync.Mutex
	delivered uint64

	ctx      context.Context
	cancel   context.CancelFunc
	lifeMu   sync.Mutex
	stopped  bool
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller создает новый опросчик
func NewPoller(config Config, m *metrics.Metrics) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		metrics:    m,
		out:        make(chan Reading, 4),
		ctx:        ctx,
		cancel:     cancel,
		stopChan:   make(chan struct{}),
	}
}

// Readings возвращает канал результатов опроса
func (p *Poller) Readings() <-chan Reading {
	return p.out
}

// Start запускает таймер опроса. Первый запрос уходит сразу.
func (p *Poller) Start() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.stopped {
		return errors.New("poller already stopped")
	}
	if p.started {
		return nil
	}
	if p.config.Interval <= 0 {
		return fmt.Errorf("invalid poll interval %v", p.config.Interval)
	}
	p.started = true

	logger.Printf("Starting telemetry poller: %s every %v", p.endpoint(), p.config.Interval)

	p.wg.Add(1)
	go p.run()
	return nil
}

// Stop останавливает таймер и отменяет незавершённые запросы
func (p *Poller) Stop() error {
	p.lifeMu.Lock()
	if p.stopped {
		p.lifeMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopChan)
	p.lifeMu.Unlock()

	p.cancel()
	p.wg.Wait()
	logger.Println("Telemetry poller stopped")
	return nil
}

// PollNow запускает внеочередной опрос вне расписания
func (p *Poller) PollNow() {
	p.spawn(p.poll)
}

func (p *Poller) run() {
	defer p.wg.Done()

	p.spawn(p.poll)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.spawn(p.poll)
		}
	}
}

// spawn запускает fn в отдельной горутине, если опросчик ещё работает
func (p *Poller) spawn(fn func()) {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.stopped {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Poller) poll() {
	seq := p.seq.Add(1)
	start := time.Now()

	snap, err := p.fetch(p.ctx)
	elapsed := time.Since(start)

	reading := Reading{Seq: seq, Snapshot: snap, Err: err, At: time.Now()}
	if snap != nil {
		snap.FetchedAt = reading.At
	}

	switch {
	case err == nil:
		p.metrics.ObservePoll(metrics.PollOK, elapsed.Seconds())
	case errors.Is(err, ErrNoData):
		p.metrics.ObservePoll(metrics.PollNoData, elapsed.Seconds())
		logger.Printf("Poll #%d: %v", seq, err)
	default:
		p.metrics.ObservePoll(metrics.PollServerError, elapsed.Seconds())
		logger.Printf("Poll #%d failed: %v", seq, err)
	}

	p.deliver(reading)
}

// deliver передаёт результат, если он новее последнего доставленного
func (p *Poller) deliver(r Reading) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	if r.Seq <= p.delivered {
		p.metrics.ObservePoll(metrics.PollStale, 0)
		logger.Printf("Discarding stale poll #%d (already delivered #%d)", r.Seq, p.delivered)
		return
	}
	p.delivered = r.Seq

	select {
	case p.out <- r:
	case <-p.stopChan:
	}
}

func (p *Poller) endpoint() string {
	return strings.TrimRight(p.config.BaseURL, "/") + "/api/data"
}

func (p *Poller) fetch(ctx context.Context) (*common.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}
	req.Header.Set("Accept", "application/json")
	if p.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.Token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: http status %d", ErrServer, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrServer, err)
	}

	return DecodeSnapshot(body)
}
