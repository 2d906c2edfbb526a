package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vedran77/relay/internal/config"
	"github.com/vedran77/relay/internal/database"
	"github.com/vedran77/relay/internal/logging"
	"github.com/vedran77/relay/internal/presence"
	"github.com/vedran77/relay/internal/repository"
	"github.com/vedran77/relay/internal/repository/badgerdb"
	postgresrepo "github.com/vedran77/relay/internal/repository/postgres"
	"github.com/vedran77/relay/internal/service"
	"github.com/vedran77/relay/internal/transport/http/handlers"
	"github.com/vedran77/relay/internal/transport/http/middleware"
	"github.com/vedran77/relay/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

type storage struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	channels repository.ChannelRepository
	close    func()
}

func main() {
	// a missing .env is fine; the environment wins over it
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg)

	if err := run(cfg, log); err != nil {
		log.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	// Core
	registry := presence.NewRegistry()
	router := service.NewRouter(
		store.messages,
		service.NewMembershipResolver(store.channels),
		registry,
		ws.NewNotifier(),
		cfg.StorageTimeout,
		log.With("component", "router"),
	)
	hub := ws.NewHub(registry, router, ws.Options{
		JWTSecret:        []byte(cfg.JWTSecret),
		AllowPlainUserID: cfg.AllowPlainUserID,
		OriginPatterns:   cfg.Origins(),
		SendBuffer:       cfg.SendBufferSize,
		PingInterval:     cfg.PingInterval,
		WriteTimeout:     cfg.WriteTimeout,
		MaxMessageSize:   cfg.MaxMessageSize,
	}, log.With("component", "gateway"))

	// Services
	historyService := service.NewHistoryService(store.messages, store.channels)
	channelService := service.NewChannelService(store.channels, store.users)
	fileService := service.NewFileService(cfg.UploadDir, cfg.UploadMaxBytes, log.With("component", "files"))

	// Routes
	httpLog := log.With("component", "http")
	mux := handlers.NewMux(handlers.Routes{
		Messages: handlers.NewMessageHandler(historyService, httpLog),
		Channels: handlers.NewChannelHandler(channelService, httpLog),
		Files:    handlers.NewFileHandler(fileService, cfg.UploadMaxBytes, httpLog),
		WS:       hub.ServeWS,
		Auth:     middleware.Auth([]byte(cfg.JWTSecret), httpLog),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           middleware.CORS(cfg.Origins())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", srv.Addr, "storage", cfg.StorageDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by the http server, and
	// read loops may still be persisting a message when storage closes
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Error("Hub shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverBadger:
		db, err := badgerdb.Open(cfg.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		return &storage{
			users:    badgerdb.NewUserRepo(db),
			messages: badgerdb.NewMessageRepo(db),
			channels: badgerdb.NewChannelRepo(db),
			close: func() {
				if err := db.Close(); err != nil {
					log.Error("Closing badger failed", "error", err)
				}
			},
		}, nil

	default:
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("Connected to database", "host", cfg.DBHost, "name", cfg.DBName)

		if cfg.DBMigrate {
			if err := database.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
			log.Info("Schema applied")
		}
		return &storage{
			users:    postgresrepo.NewUserRepo(pool),
			messages: postgresrepo.NewMessageRepo(pool),
			channels: postgresrepo.NewChannelRepo(pool),
			close:    pool.Close,
		}, nil
	}
}
