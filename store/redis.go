package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"aura-monitor/common"
)

var logger = log.New(os.Stdout, "[Redis-Mirror] ", log.LstdFlags|log.Lshortfile)

// Config представляет конфигурацию зеркала состояния в Redis
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`     // Время жизни хеша состояния
	GeoKey   string        `mapstructure:"geo_key"` // Ключ GEOADD для автомобиля и оператора
	Channel  string        `mapstructure:"channel"` // Канал PUBLISH для событий статуса
	Timeout  time.Duration `mapstructure:"timeout"` // Таймаут одной записи
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Addr:    "localhost:6379",
		TTL:     30 * time.Second,
		GeoKey:  "monitor:geo",
		Channel: "monitor:status",
		Timeout: 2 * time.Second,
	}
}

// RedisMirror дублирует каждое событие статуса в Redis для других потребителей
type RedisMirror struct {
	config Config
	client *redis.Client
	events chan common.StatusEvent

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRedisMirror подключается к Redis и проверяет соединение
func NewRedisMirror(ctx context.Context, config Config) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     4,
		MinIdleConns: 1,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisMirror{
		config:   config,
		client:   client,
		events:   make(chan common.StatusEvent, 16),
		stopChan: make(chan struct{}),
	}, nil
}

// Start запускает запись событий
func (r *RedisMirror) Start() {
	logger.Printf("Mirroring status to redis %s", r.config.Addr)
	r.wg.Add(1)
	go r.loop()
}

// Stop завершает запись и закрывает соединение
func (r *RedisMirror) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()
		err = r.client.Close()
	})
	return err
}

// PublishStatus ставит событие в очередь и не блокирует вызывающего
func (r *RedisMirror) PublishStatus(ev common.StatusEvent) {
	select {
	case r.events <- ev:
	default:
		logger.Printf("Mirror queue full, dropping %s", ev.Status)
	}
}

func (r *RedisMirror) loop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		case ev := <-r.events:
			ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
			if err := r.write(ctx, ev); err != nil {
				logger.Printf("Failed to mirror status: %v", err)
			}
			cancel()
		}
	}
}

func stateKey(imei string) string {
	if imei == "" {
		imei = "unknown"
	}
	return fmt.Sprintf("vehicle:%s:view", imei)
}

// stateFields раскладывает событие в поля хеша состояния
func stateFields(ev common.StatusEvent) map[string]interface{} {
	fields := map[string]interface{}{
		"status":      ev.Status,
		"severity":    ev.Severity,
		"speed_kmh":   ev.SpeedKmh,
		"voltage":     ev.Voltage,
		"ignition":    ev.IgnitionOn,
		"immobilizer": ev.Immobilized,
		"timestamp":   ev.Timestamp.Unix(),
	}
	if ev.Vehicle != nil {
		fields["lat"] = ev.Vehicle.Lat
		fields["lng"] = ev.Vehicle.Lon
	}
	if ev.Reference != nil {
		fields["ref_lat"] = ev.Reference.Lat
		fields["ref_lng"] = ev.Reference.Lon
	}
	if ev.DistanceM != nil {
		fields["distance_m"] = *ev.DistanceM
	}
	return fields
}

func (r *RedisMirror) write(ctx context.Context, ev common.StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := stateKey(ev.IMEI)
	pipe := r.client.Pipeline()

	pipe.HSet(ctx, key, stateFields(ev))
	pipe.Expire(ctx, key, r.config.TTL)
	if ev.Vehicle != nil {
		pipe.GeoAdd(ctx, r.config.GeoKey, &redis.GeoLocation{
			Name:      "vehicle",
			Longitude: ev.Vehicle.Lon,
			Latitude:  ev.Vehicle.Lat,
		})
	}
	if ev.Reference != nil {
		pipe.GeoAdd(ctx, r.config.GeoKey, &redis.GeoLocation{
			Name:      "operator",
			Longitude: ev.Reference.Lon,
			Latitude:  ev.Reference.Lat,
		})
	}
	pipe.Publish(ctx, r.config.Channel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}
