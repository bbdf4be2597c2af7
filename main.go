package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aura-monitor/command"
	"aura-monitor/dashboard"
	"aura-monitor/location"
	"aura-monitor/mapsync"
	"aura-monitor/metrics"
	"aura-monitor/mqtt"
	"aura-monitor/server"
	"aura-monitor/store"
	"aura-monitor/telemetry"
)

var logger = log.New(os.Stdout, "[Aura-Monitor] ", log.LstdFlags|log.Lshortfile)

func main() {
	configPath := flag.String("config", "", "path to config file (default ./config.yaml)")
	flag.Parse()

	config, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		logger.Fatalf("Monitor failed: %v", err)
	}
	logger.Println("Monitor stopped")
}

func run(ctx context.Context, config Config) error {
	var (
		reg      *prometheus.Registry
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if config.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		m = metrics.New(reg)
		gatherer = reg
	}

	var sinks []dashboard.StatusSink

	var mqttClient *mqtt.Client
	if config.MQTT.Enabled {
		mqttClient = mqtt.NewClient(config.MQTT)
		if err := mqttClient.Start(); err != nil {
			return err
		}
		defer mqttClient.Stop()
		sinks = append(sinks, mqttClient)
	}

	if config.Redis.Enabled {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		mirror, err := store.NewRedisMirror(pingCtx, config.Redis)
		cancel()
		if err != nil {
			// Зеркало необязательно: монитор работает и без него
			logger.Printf("Redis mirror disabled: %v", err)
		} else {
			mirror.Start()
			defer mirror.Stop()
			sinks = append(sinks, mirror)
		}
	}

	var source location.Source
	switch config.Location.Source {
	case "static":
		source = location.NewStaticSource(config.Location.Static)
	case "mqtt":
		source = mqttClient.LocationSource()
	default:
		source = location.NewSerialSource(config.Location.Serial)
	}

	poller := telemetry.NewPoller(config.Telemetry, m)
	tracker := location.NewTracker(source, m)
	dispatcher := command.NewDispatcher(config.Command, poller, m)

	hub := mapsync.NewHub()
	engine := mapsync.NewEngine(config.Map, hub)
	if config.Map.OpenOnStart {
		config.Dashboard.OpenMap = true
	}

	controller := dashboard.NewController(config.Dashboard, poller, tracker, dispatcher, engine, m, sinks...)
	if err := controller.Start(); err != nil {
		return err
	}
	defer func() {
		if err := controller.Stop(); err != nil {
			logger.Printf("Dashboard teardown: %v", err)
		}
	}()

	srv := server.New(config.Server, controller, hub, gatherer)
	srv.Start()

	<-ctx.Done()
	logger.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
