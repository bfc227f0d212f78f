package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/ws"
	"github.com/chatsync/migrations"
)

func main() {
	logger.SetPrefix("devserver")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting chat dev server")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	store, err := openStore(cfg, *migrate)
	if err != nil {
		logger.Errorf("store: %v", err)
		os.Exit(1)
	}
	defer store.Close()
	if *migrate {
		return
	}

	sessions, err := sessionSecrets(cfg)
	if err != nil {
		logger.Errorf("session secret: %v", err)
		os.Exit(1)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(ws.Limits{
		MaxConns:       cfg.MaxWSConnections,
		SendBuffer:     cfg.WSSendBufferSize,
		WriteTimeout:   time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongTimeout:    time.Duration(cfg.WSPongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	router := handler.NewRouter(handler.RouterConfig{
		Store:              store,
		Hub:                hub,
		MaxUploadSize:      cfg.MaxUploadSize,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Sessions:           sessions,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			hubCancel()
			hubWg.Wait()
			return
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// openStore возвращает PostgreSQL-хранилище при заданном DATABASE_URL, иначе хранилище в памяти.
func openStore(cfg *config.Config, migrateOnly bool) (repository.Store, error) {
	if cfg.DatabaseURL() == "" {
		if migrateOnly {
			return nil, fmt.Errorf("-migrate requires DATABASE_URL or -dev")
		}
		logger.Info("DATABASE_URL is empty, using in-memory store")
		return repository.NewMemoryStore(), nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	ctx := context.Background()
	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second, "devserver: ")
	if err != nil {
		return nil, err
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := migrations.Apply(migrateCtx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected, migrations applied")
	return repository.NewPGStore(pool), nil
}

// sessionSecrets включает проверку подписи, если у сервера настроена сессия.
func sessionSecrets(cfg *config.Config) (map[string][]byte, error) {
	if cfg.SessionID == "" || cfg.SessionSecret == "" {
		return nil, nil
	}
	secret, err := base64.StdEncoding.DecodeString(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}
	logger.Info("request signing enabled")
	return map[string][]byte{cfg.SessionID: secret}, nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "chatsync"
		password = "chatsync_dev"
		database = "chatsync"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "chatsync-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
