package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/linzo/caption-relay/internal/api"
	"github.com/linzo/caption-relay/internal/config"
	"github.com/linzo/caption-relay/internal/events"
	"github.com/linzo/caption-relay/internal/metrics"
	"github.com/linzo/caption-relay/internal/relay"
	"github.com/linzo/caption-relay/internal/storage/sqlite"
	"github.com/linzo/caption-relay/internal/telephony"
	"github.com/linzo/caption-relay/internal/translation"
	"github.com/linzo/caption-relay/internal/websocket"
	"github.com/linzo/caption-relay/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting caption relay server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Create caption storage with a daily database file
	today := time.Now().Format("2006-01-02")
	dbFilename := fmt.Sprintf("caption-relay-%s.db", today)
	dbPath := filepath.Join(cfg.Storage.SQLiteBasePath, dbFilename)

	if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLiteBasePath))
		os.Exit(1)
	}

	captionStorage, err := sqlite.NewCaptionStorage(dbPath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer captionStorage.Close()
	log.Info("Using daily database", logger.String("path", dbPath))

	// Create metrics collectors
	m := metrics.New()

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run()
	m.RegisterSubscriberGauge(wsServer.SubscriberCount)

	// Create Twilio REST client
	twilioClient := telephony.NewClient(cfg.Twilio, log)

	// Create translation service if enabled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	translator, err := translation.NewService(ctx, cfg.Translation, log)
	if err != nil {
		log.Error("Failed to create translation service", logger.Error(err))
		os.Exit(1)
	}
	if translator != nil {
		log.Info("Caption translation enabled",
			logger.String("model", cfg.Translation.Model),
			logger.String("target_language", cfg.Translation.TargetLanguage))
	}

	// Create Kafka publisher if enabled
	publisher := events.NewPublisher(cfg.Events, log)
	if publisher != nil {
		log.Info("Caption event publishing enabled",
			logger.Any("brokers", cfg.Events.Brokers),
			logger.String("topic", cfg.Events.Topic))
		defer publisher.Close()
	}

	// Create the relay service and route client frames to it
	relayService := relay.NewService(
		wsServer,
		captionStorage,
		twilioClient,
		translator,
		publisher,
		m,
		cfg.Transcription,
		cfg.StatusCallbackURL(),
		log,
	)
	wsServer.SetMessageHandler(relayService)

	// Create API router
	router := api.NewRouter(relayService, captionStorage, wsServer, cfg, m, log)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	if len(cfg.Server.AdditionalPorts) > 0 {
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	// Start a server for each configured port
	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router.Routes(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Cancel the main context
	cancel()

	// Shutdown all HTTP servers
	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	log.Info("Server fully stopped")
}
