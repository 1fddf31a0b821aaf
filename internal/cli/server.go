package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/infra/courses"
	"quiz-session-service/internal/infra/memory"
	mongostore "quiz-session-service/internal/infra/mongo"
	pgstore "quiz-session-service/internal/infra/postgres"
	rediscache "quiz-session-service/internal/infra/redis"
	"quiz-session-service/internal/monitor"
	transport "quiz-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var cache app.QuizCache
	if redisClient != nil {
		cache = rediscache.NewQuizCache(redisClient, store, quizTTL)
	} else {
		cache = memory.NewQuizCache(store, quizTTL)
	}

	hub := monitor.NewHub(cfg.Monitor.Shards)
	defer hub.Close()

	var broadcaster app.Broadcaster = hub
	if cfg.Relay.Enabled {
		relay := rediscache.NewRelay(redisClient, hub)
		if err := relay.Start(ctx); err != nil {
			return err
		}
		broadcaster = relay
		log.Printf("monitor events relayed through redis %s", cfg.Redis.Addr)
	}

	registry := courses.NewClient(courses.Options{
		BaseURL: cfg.Courses.BaseURL,
		Timeout: config.TTLDuration(cfg.Courses.Timeout, 10*time.Second),
		Retries: cfg.Courses.Retries,
	})

	quizzes := app.NewQuizService(store, registry, broadcaster, cache)
	participation := app.NewParticipationService(cache, store, registry, broadcaster)
	monitors := app.NewMonitorService(store, registry)

	router := transport.NewRouter(
		transport.NewQuizHandler(quizzes),
		transport.NewStudentHandler(participation),
		transport.NewWSHandler(monitors, hub, transport.WSConfig{
			SendBuffer: cfg.Monitor.SendBuffer,
			WriteWait:  config.TTLDuration(cfg.Monitor.WriteWait, 10*time.Second),
			PongWait:   config.TTLDuration(cfg.Monitor.PongWait, 60*time.Second),
		}),
		store,
	)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	go func() {
		log.Printf("starting quiz session service on :%s (store=%s)", finalPort, cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	// Monitors are hijacked connections that Shutdown does not wait for;
	// closing the hub sends each of them a close frame.
	hub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// openStore connects the configured backend and prepares its schema.
func openStore(ctx context.Context, cfg config.Config) (app.Store, func(), error) {
	switch cfg.Store.Driver {
	case "mongo":
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, err
		}
		store := mongostore.NewStore(client, cfg.Mongo.Database)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		log.Printf("connected to mongo database %s", cfg.Mongo.Database)
		return store, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Printf("mongo disconnect: %v", err)
			}
		}, nil
	case "postgres":
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pgstore.NewStore(pool), pool.Close, nil
	default:
		log.Printf("using in-memory store; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}
}
