package location

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"golang.org/x/sys/unix"

	"aura-monitor/common"
)

// SerialConfig представляет конфигурацию GPS-приёмника на последовательном порту
type SerialConfig struct {
	DevicePath        string        `mapstructure:"device_path"`        // Путь к устройству, например "/dev/ttyUSB0"
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"` // Интервал переподключения при ошибках
}

// DefaultSerialConfig возвращает конфигурацию по умолчанию
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		DevicePath:        "/dev/ttyUSB0",
		ReconnectInterval: 5 * time.Second,
	}
}

// SerialSource читает предложения NMEA-0183 с GPS-приёмника.
// Скорость порта должна быть настроена заранее (stty или udev).
type SerialSource struct {
	config    SerialConfig
	open      func(path string) (io.ReadCloser, error)
	conn      io.ReadCloser
	connMutex sync.Mutex
	out       chan<- common.Fix
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewSerialSource создает источник для устройства из config
func NewSerialSource(config SerialConfig) *SerialSource {
	return &SerialSource{
		config:   config,
		open:     openDevice,
		stopChan: make(chan struct{}),
	}
}

func openDevice(path string) (io.ReadCloser, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("device %s does not exist", path)
	}

	file, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return file, nil
}

func (s *SerialSource) Name() string { return "nmea" }

// Start запускает чтение устройства
func (s *SerialSource) Start(out chan<- common.Fix) error {
	s.out = out
	logger.Printf("Starting NMEA source on %s", s.config.DevicePath)

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

// Stop закрывает устройство и ждёт завершения чтения
func (s *SerialSource) Stop() error {
	close(s.stopChan)
	s.closeConnection()
	s.wg.Wait()
	logger.Println("NMEA source stopped")
	return nil
}

func (s *SerialSource) setConnection(conn io.ReadCloser) {
	s.connMutex.Lock()
	s.conn = conn
	s.connMutex.Unlock()
}

func (s *SerialSource) closeConnection() {
	s.connMutex.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMutex.Unlock()
}

// wait ждёт интервал переподключения; false если источник остановлен
func (s *SerialSource) wait() bool {
	select {
	case <-s.stopChan:
		return false
	case <-time.After(s.config.ReconnectInterval):
		return true
	}
}

func (s *SerialSource) stopping() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

func (s *SerialSource) readLoop() {
	defer s.wg.Done()

	for !s.stopping() {
		conn, err := s.open(s.config.DevicePath)
		if err != nil {
			logger.Printf("GPS connect failed: %v", err)
			if !s.wait() {
				return
			}
			continue
		}
		s.setConnection(conn)
		if s.stopping() {
			s.closeConnection()
			return
		}
		logger.Printf("Connected to GPS receiver: %s", s.config.DevicePath)

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fix, ok, err := ParseSentence(scanner.Text())
			if err != nil {
				continue
			}
			if !ok {
				continue
			}

			select {
			case s.out <- fix:
			default:
				logger.Println("Warning: fixes channel is full, dropping fix")
			}
		}

		if err := scanner.Err(); err != nil && !s.stopping() {
			logger.Printf("GPS read error: %v", err)
		}
		s.closeConnection()

		if !s.wait() {
			return
		}
	}
}

// uereMeters грубая оценка ошибки дальности для пересчёта HDOP в метры
const uereMeters = 5.0

// ParseSentence разбирает одно предложение NMEA.
// ok равно false для предложений без действительной позиции.
func ParseSentence(line string) (fix common.Fix, ok bool, err error) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		return common.Fix{}, false, err
	}

	switch m := sentence.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return common.Fix{}, false, nil
		}
		return common.Fix{
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
			Timestamp: time.Now(),
			Source:    "nmea",
		}, true, nil
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return common.Fix{}, false, nil
		}
		return common.Fix{
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
			Accuracy:  m.HDOP * uereMeters,
			Timestamp: time.Now(),
			Source:    "nmea",
		}, true, nil
	default:
		return common.Fix{}, false, nil
	}
}
