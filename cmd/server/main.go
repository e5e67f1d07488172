package main

import (
	"chatgogo/messenger/internal/api/handler"
	"chatgogo/messenger/internal/chathub"
	"chatgogo/messenger/internal/config"
	"chatgogo/messenger/internal/events"
	"chatgogo/messenger/internal/storage"
	"chatgogo/messenger/internal/thread"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var (
		configPath string
		sqlitePath string
	)

	cmd := &cobra.Command{
		Use:   "chatgogo-server",
		Short: "ChatGoGo messaging server",
		Long:  "Serves message history, submissions, thread moderation and websocket push for ChatGoGo clients.",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if sqlitePath != "" {
				cfg.Server.SQLitePath = sqlitePath
			}
			if err := cfg.Server.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg.Server)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "use a SQLite database file instead of PostgreSQL")
	return cmd
}

func setupDependencies(ctx context.Context, cfg config.ServerConfig) (*gorm.DB, *redis.Client, error) {
	var dialector gorm.Dialector
	if cfg.SQLitePath != "" {
		dialector = sqlite.Open(cfg.SQLitePath)
	} else {
		dialector = postgres.Open(cfg.DatabaseDSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	// Redis is optional: without it the hub delivers in-process only.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
	}
	return db, rdb, nil
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	log.Println("Starting ChatGoGo server...")

	db, rdb, err := setupDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	s := storage.NewStorageService(db, rdb)
	if err := s.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Printf("INFO: database ready, redis broker enabled: %t", s.HasBroker())

	if err := os.MkdirAll(cfg.FilesDir, 0o755); err != nil {
		return fmt.Errorf("create files dir: %w", err)
	}

	hub := chathub.NewManagerService(s)
	go hub.Run()
	defer hub.Stop()

	auth := handler.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL)
	h := handler.NewHandler(hub, s, auth, cfg.FilesDir)
	h.MaxUploadSize = cfg.MaxUploadSize
	h.Policy = thread.Policy{RootEditableAfterReplies: cfg.RootEditableAfterReplies}
	if cfg.AMQPURL != "" {
		pub, err := events.NewRabbitPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		h.Events = pub
		log.Printf("INFO: publishing lifecycle events to exchange %s", cfg.AMQPExchange)
	}

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadSize
	h.Register(r)

	server := &http.Server{
		Addr:           cfg.Addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("INFO: listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("INFO: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Printf("WARNING: closing redis: %v", err)
		}
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}
