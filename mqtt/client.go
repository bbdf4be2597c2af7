package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"

	"aura-monitor/common"
)

// Config представляет конфигурацию MQTT клиента
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`         // Включить публикацию статуса и приём координат
	Broker         string        `mapstructure:"broker"`          // Адрес брокера, например "tcp://localhost:1883"
	Username       string        `mapstructure:"username"`        // Имя пользователя (опционально)
	Password       string        `mapstructure:"password"`        // Пароль (опционально)
	ClientID       string        `mapstructure:"client_id"`       // ID клиента (опционально, генерируется если пустой)
	StatusTopic    string        `mapstructure:"status_topic"`    // Базовый топик для статуса автомобиля
	LocationTopic  string        `mapstructure:"location_topic"`  // Топик координат оператора
	QoS            byte          `mapstructure:"qos"`             // Quality of Service (0, 1, 2)
	KeepAlive      int           `mapstructure:"keep_alive"`      // Интервал keep alive в секундах
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // Таймаут подключения
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`  // Автоматическое переподключение
	Retain         bool          `mapstructure:"retain"`          // Сохранять последний статус на брокере
}

// generateClientID генерирует случайный ID клиента
func generateClientID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return "aura-monitor-" + hex.EncodeToString(bytes)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		StatusTopic:    "aura/vehicle",
		LocationTopic:  "aura/operator/location",
		QoS:            1,
		KeepAlive:      60,
		ConnectTimeout: 10 * time.Second,
		AutoReconnect:  true,
		Retain:         true,
	}
}

// LocationMessage представляет отметку оператора в формате OwnTracks
type LocationMessage struct {
	Type      string  `json:"_type"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Accuracy  float64 `json:"acc"`
	Timestamp int64   `json:"tst"`
}

// Client представляет MQTT клиента
type Client struct {
	config     Config
	mqttClient mqttLib.Client
	statusChan chan common.StatusEvent
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	logger     *log.Logger

	locMutex sync.Mutex
	locOut   chan<- common.Fix
}

// NewClient создает нового MQTT клиента
func NewClient(config Config) *Client {
	if config.ClientID == "" {
		config.ClientID = generateClientID()
	}
	return &Client{
		config:     config,
		statusChan: make(chan common.StatusEvent, 16),
		stopChan:   make(chan struct{}),
		logger:     log.New(os.Stdout, "[MQTT-Client] ", log.LstdFlags|log.Lshortfile),
	}
}

// Start запускает MQTT клиента
func (c *Client) Start() error {
	c.logger.Printf("Starting MQTT client, broker: %s", c.config.Broker)

	// Создаем опции подключения
	opts := mqttLib.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetKeepAlive(time.Duration(c.config.KeepAlive) * time.Second)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetAutoReconnect(c.config.AutoReconnect)

	if c.config.Username != "" && c.config.Password != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
		c.logger.Println("MQTT authentication: ENABLED")
	} else {
		c.logger.Println("MQTT authentication: DISABLED (anonymous mode)")
	}

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.onConnectionLostHandler)
	opts.SetReconnectingHandler(c.onReconnectingHandler)

	c.mqttClient = mqttLib.NewClient(opts)

	if token := c.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.wg.Add(1)
	go c.publishStatusLoop()

	c.logger.Println("MQTT client started successfully")
	return nil
}

// Stop останавливает MQTT клиента
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		c.logger.Println("Stopping MQTT client...")
		close(c.stopChan)
		c.wg.Wait()

		if c.mqttClient != nil && c.mqttClient.IsConnected() {
			c.mqttClient.Disconnect(1000)
			c.logger.Println("MQTT client disconnected")
		}
	})
	return nil
}

// onConnectHandler вызывается при каждом подключении, в том числе после обрыва
func (c *Client) onConnectHandler(client mqttLib.Client) {
	c.logger.Println("Connected to MQTT broker")

	c.locMutex.Lock()
	subscribed := c.locOut != nil
	c.locMutex.Unlock()

	if subscribed {
		if err := c.subscribeLocation(client); err != nil {
			c.logger.Printf("Resubscribe failed: %v", err)
		}
	}
}

// onConnectionLostHandler вызывается при потере соединения
func (c *Client) onConnectionLostHandler(client mqttLib.Client, err error) {
	c.logger.Printf("Connection lost: %v", err)
}

// onReconnectingHandler вызывается при попытке переподключения
func (c *Client) onReconnectingHandler(client mqttLib.Client, opts *mqttLib.ClientOptions) {
	c.logger.Println("Attempting to reconnect to MQTT broker...")
}

// PublishStatus ставит событие в очередь на публикацию и не блокирует вызывающего
func (c *Client) PublishStatus(ev common.StatusEvent) {
	select {
	case c.statusChan <- ev:
	default:
		c.logger.Printf("Status queue full, dropping %s", ev.Status)
	}
}

// publishStatusLoop публикует события статуса
func (c *Client) publishStatusLoop() {
	defer c.wg.Done()
	c.logger.Println("Starting status publish loop")

	for {
		select {
		case <-c.stopChan:
			c.logger.Println("Status publish loop stopped")
			return
		case ev := <-c.statusChan:
			if err := c.publishStatus(ev); err != nil {
				c.logger.Printf("Failed to publish status: %v", err)
			}
		}
	}
}

// statusTopic возвращает топик статуса для конкретного устройства
func (c *Client) statusTopic(imei string) string {
	if imei == "" {
		imei = "unknown"
	}
	return fmt.Sprintf("%s/%s/status", c.config.StatusTopic, imei)
}

// publishStatus публикует событие статуса в MQTT
func (c *Client) publishStatus(ev common.StatusEvent) error {
	if c.mqttClient == nil || !c.mqttClient.IsConnected() {
		return errors.New("MQTT client not connected")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	topic := c.statusTopic(ev.IMEI)
	token := c.mqttClient.Publish(topic, c.config.QoS, c.config.Retain, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.Printf("Published status to %s: %s", topic, ev.Status)
	return nil
}

// IsConnected возвращает true если клиент подключен к брокеру
func (c *Client) IsConnected() bool {
	return c.mqttClient != nil && c.mqttClient.IsConnected()
}

// LocationSource возвращает источник координат оператора поверх этого клиента.
// Клиент должен быть запущен до старта источника.
func (c *Client) LocationSource() *LocationSource {
	return &LocationSource{client: c}
}

func (c *Client) subscribeLocation(client mqttLib.Client) error {
	token := client.Subscribe(c.config.LocationTopic, c.config.QoS, c.onLocationReceived)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.config.LocationTopic, token.Error())
	}
	c.logger.Printf("Subscribed to location topic: %s", c.config.LocationTopic)
	return nil
}

// onLocationReceived обрабатывает входящие координаты оператора
func (c *Client) onLocationReceived(client mqttLib.Client, msg mqttLib.Message) {
	fix, err := decodeLocation(msg.Payload())
	if err != nil {
		c.logger.Printf("Ignoring message on %s: %v", msg.Topic(), err)
		return
	}

	c.locMutex.Lock()
	out := c.locOut
	c.locMutex.Unlock()
	if out == nil {
		return
	}

	select {
	case out <- fix:
	default:
		c.logger.Println("Warning: fixes channel is full, dropping fix")
	}
}

// decodeLocation разбирает сообщение OwnTracks
func decodeLocation(payload []byte) (common.Fix, error) {
	var msg LocationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return common.Fix{}, fmt.Errorf("failed to unmarshal location: %w", err)
	}
	if msg.Type != "" && msg.Type != "location" {
		return common.Fix{}, fmt.Errorf("unsupported message type %q", msg.Type)
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.Unix(msg.Timestamp, 0)
	}
	return common.Fix{
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
		Accuracy:  msg.Accuracy,
		Timestamp: ts,
		Source:    "mqtt",
	}, nil
}

// LocationSource получает координаты оператора из топика MQTT
type LocationSource struct {
	client *Client
}

func (s *LocationSource) Name() string { return "mqtt" }

func (s *LocationSource) Start(out chan<- common.Fix) error {
	c := s.client
	if c.mqttClient == nil {
		return errors.New("MQTT client not started")
	}

	c.locMutex.Lock()
	c.locOut = out
	c.locMutex.Unlock()

	if !c.mqttClient.IsConnected() {
		// Подписка произойдет в onConnectHandler
		return nil
	}
	return c.subscribeLocation(c.mqttClient)
}

func (s *LocationSource) Stop() error {
	c := s.client
	c.locMutex.Lock()
	c.locOut = nil
	c.locMutex.Unlock()

	if c.mqttClient == nil || !c.mqttClient.IsConnected() {
		return nil
	}
	token := c.mqttClient.Unsubscribe(c.config.LocationTopic)
	token.Wait()
	return token.Error()
}
