package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aura-monitor/command"
	"aura-monitor/dashboard"
)

var logger = log.New(os.Stdout, "[HTTP-Server] ", log.LstdFlags|log.Lshortfile)

// Config представляет конфигурацию HTTP-интерфейса оператора
type Config struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Dashboard операции панели, доступные через HTTP
type Dashboard interface {
	View() dashboard.View
	ToggleImmobilizer() error
	SetFrequency(value int) error
}

// Server отдаёт представление панели, принимает команды и метрики
type Server struct {
	config Config
	srv    *http.Server
}

// New собирает маршруты. mapHandler и gatherer могут быть nil.
func New(config Config, dash Dashboard, mapHandler http.Handler, gatherer prometheus.Gatherer) *Server {
	return &Server{
		config: config,
		srv: &http.Server{
			Addr:         config.Addr,
			Handler:      Routes(dash, mapHandler, gatherer),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
	}
}

// Routes возвращает обработчик со всеми маршрутами
func Routes(dash Dashboard, mapHandler http.Handler, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/view", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dash.View())
	})
	mux.HandleFunc("POST /api/immobilizer/toggle", func(w http.ResponseWriter, r *http.Request) {
		err := dash.ToggleImmobilizer()
		writeCommandResult(w, err)
	})
	mux.HandleFunc("POST /api/frequency", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Frequency int `json:"frequency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		writeCommandResult(w, dash.SetFrequency(body.Frequency))
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if mapHandler != nil {
		mux.Handle("GET /ws/map", mapHandler)
	}
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return withLogging(mux)
}

// Start запускает сервер в фоне
func (s *Server) Start() {
	logger.Printf("Listening on %s", s.config.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("HTTP server exited: %v", err)
		}
	}()
}

// Stop дожидается завершения активных запросов
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeCommandResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"result": "queued"})
	case errors.Is(err, dashboard.ErrNoSnapshot):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, command.ErrInvalidFrequency):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("Failed to encode response: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack нужен для websocket-апгрейда карты
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Printf("%s %s %d %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
