package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yegors/whisper-web/internal/api"
	"github.com/yegors/whisper-web/internal/audio"
	"github.com/yegors/whisper-web/internal/config"
	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/inference"
	"github.com/yegors/whisper-web/internal/inference/gemini"
	"github.com/yegors/whisper-web/internal/inference/openai"
	"github.com/yegors/whisper-web/internal/inference/whispercpp"
	"github.com/yegors/whisper-web/internal/metrics"
	"github.com/yegors/whisper-web/internal/session"
	"github.com/yegors/whisper-web/internal/storage/sqlite"
	"github.com/yegors/whisper-web/internal/websocket"
	"github.com/yegors/whisper-web/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	envFile := flag.String("env", ".env", "Path to a .env file with API keys (ignored when missing)")
	flag.Parse()

	// Secrets may live in .env; real environment variables win
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}

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

	log.Info("Starting whisper-web server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("provider", cfg.Engine.Provider),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Transcript history
	var store *sqlite.TranscriptStorage
	if cfg.Storage.Enabled {
		var db *sql.DB
		db, err = sqlite.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			log.Error("Failed to open SQLite database", logger.Error(err))
			os.Exit(1)
		}
		defer db.Close()

		store, err = sqlite.NewTranscriptStorage(db, log)
		if err != nil {
			log.Error("Failed to create transcript storage", logger.Error(err))
			os.Exit(1)
		}
		log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))
	} else {
		log.Info("Transcript history disabled")
	}

	m := metrics.NewMetrics(nil)

	// Model artifacts
	modelStore := hub.NewStore(hub.StoreConfig{
		CacheDir: cfg.Engine.ModelCacheDir,
		BaseURL:  cfg.Engine.HubBaseURL,
		Timeout:  config.Seconds(cfg.Engine.HubTimeoutSecs),
	}, nil, log)

	engine, err := newEngine(ctx, cfg, modelStore, log)
	if err != nil {
		log.Error("Failed to create inference engine", logger.Error(err))
		os.Exit(1)
	}

	// Inference worker
	worker := inference.NewWorker(engine, inference.WorkerConfig{
		ChunkLength:  cfg.Transcriber.ChunkLength,
		StrideLength: cfg.Transcriber.StrideLength,
		EventBuffer:  cfg.Transcriber.EventBuffer,
	}, m, log)
	worker.Start(ctx)

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run(ctx)

	// Session controller
	opts := session.Options{Publisher: wsServer, Metrics: m}
	if store != nil {
		opts.Store = store
	}
	controller := session.NewController(worker, session.Settings{
		Model:        cfg.Transcriber.Model,
		Multilingual: cfg.Transcriber.Multilingual,
		Quantized:    cfg.Transcriber.Quantized,
		Subtask:      cfg.Transcriber.Subtask,
		Language:     cfg.Transcriber.Language,
	}, opts, log)
	go controller.Run(ctx, worker.Events())

	// Audio acquisition
	decoder := audio.NewDecoder(audio.DecoderConfig{
		FFmpegPath: cfg.Acquisition.FFmpegPath,
		SampleRate: cfg.Transcriber.SamplingRate,
		Timeout:    config.Seconds(cfg.Acquisition.FFmpegTimeoutSecs),
	}, log)
	fetcher := audio.NewFetcher(audio.FetcherConfig{
		MaxBytes: int64(cfg.Acquisition.MaxDownloadMB) << 20,
		Timeout:  config.Seconds(cfg.Acquisition.DownloadTimeoutSecs),
	}, nil, log)

	// Create API router
	deps := api.Deps{
		Session:  controller,
		Decoder:  decoder,
		Fetcher:  fetcher,
		WSServer: wsServer,
		Engine:   engine.Name(),
	}
	if store != nil {
		deps.Store = store
	}
	router := api.NewRouter(deps, m, cfg, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  config.Seconds(cfg.Server.ReadTimeoutSecs),
		WriteTimeout: config.Seconds(cfg.Server.WriteTimeoutSecs),
		IdleTimeout:  config.Seconds(cfg.Server.IdleTimeoutSecs),
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.String("addr", server.Addr), logger.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Stopping inference worker...")
	worker.Stop()

	// Cancel the main context
	cancel()

	log.Info("Server fully stopped")
}

// newEngine builds the inference engine selected by engine.provider
func newEngine(ctx context.Context, cfg *config.Config, store *hub.Store, log *logger.Logger) (inference.Engine, error) {
	switch cfg.Engine.Provider {
	case config.ProviderOpenAI:
		return openai.NewEngine(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: config.Seconds(cfg.OpenAI.TimeoutSecs),
		}, store, log), nil
	case config.ProviderGemini:
		return gemini.NewEngine(ctx, gemini.Config{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
			Timeout: config.Seconds(cfg.Gemini.TimeoutSecs),
		}, store, log)
	case config.ProviderWhisperCpp:
		return whispercpp.NewEngine(whispercpp.Config{
			Repo:            cfg.WhisperCpp.Repo,
			QuantizedSuffix: cfg.WhisperCpp.QuantizedSuffix,
			Threads:         cfg.WhisperCpp.Threads,
		}, store, log)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Engine.Provider)
	}
}
