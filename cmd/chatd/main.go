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

	redis "github.com/redis/go-redis/v9"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/history"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/session"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/store"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/workflow"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/api"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/broker/kafka"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/config"
	mongodb "github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/db/mongo"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/db/scylla"
	ginserver "github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/http/gin"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/obs"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/outbox"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/presence"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/storage/s3"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	logger := obs.NewLogger(cfg.Env)
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	app, cleanup, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: app.ready,
	}, app.handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers ginserver.Handlers
	ready    func() error
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (application, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (application, func(), error) {
		cleanup()
		return application{}, func() {}, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	closers = append(closers, func() { _ = rdb.Close() })
	tracker := presence.NewRedisTracker(rdb, presence.DefaultOnlineTTL)

	mongoClient, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return fail(fmt.Errorf("mongo connect: %w", err))
	}
	closers = append(closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Close(closeCtx)
	})
	rooms := mongodb.NewRoomRepository(mongoClient.DB)

	scyllaSession, err := scylla.NewSession(scylla.Config{
		Hosts:    cfg.ScyllaHosts,
		Keyspace: cfg.ScyllaKeyspace,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("scylla connect: %w", err))
	}
	closers = append(closers, scyllaSession.Close)
	historyStore := scylla.NewHistoryStore(scyllaSession, logger)

	var publisher *kafka.Publisher
	var relay *outbox.Relay
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, nil)
		if err != nil {
			return fail(fmt.Errorf("kafka producer: %w", err))
		}
		closers = append(closers, func() { _ = publisher.Close() })
		relay = outbox.NewRelay(publisher, 500*time.Millisecond)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event relay stopped", "error", err)
			}
		}()
	} else {
		logger.Warn("kafka brokers not configured, workflow events will not be published")
	}

	apiClient, err := api.NewClient(cfg.APIBaseURL, logger,
		api.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		api.WithToken(os.Getenv("API_TOKEN")),
	)
	if err != nil {
		return fail(fmt.Errorf("api client: %w", err))
	}

	var uploads s3.Uploader = s3.NoopUploader{}
	if cfg.S3Endpoint != "" {
		s3Store, err := s3.NewStore(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			return fail(fmt.Errorf("s3 store: %w", err))
		}
		uploads = s3Store
	}

	var manager *session.Manager
	var transport session.Transport

	manager = session.NewManager(func(roomID string, userID int64) (*session.Session, error) {
		return buildSession(ctx, sessionDeps{
			cfg:       cfg,
			logger:    logger,
			rooms:     rooms,
			tracker:   tracker,
			source:    historyStore,
			archive:   historyStore,
			transport: transport,
			api:       apiClient,
			events:    relay,
		}, roomID, userID)
	})

	go func() {
		err := presence.Heartbeat{
			Tracker:  tracker,
			Sessions: manager,
			Logger:   logger,
		}.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("presence heartbeat stopped", "error", err)
		}
	}()

	router := ws.NewRouter(manager, logger)
	wsClient, err := ws.Dial(ctx, ws.Config{
		URL:         cfg.WSURL,
		DialTimeout: cfg.WSDialTimeout,
		WriteWait:   cfg.WSWriteWait,
		PongWait:    cfg.WSPongWait,
	}, router, logger)
	if err != nil {
		return fail(fmt.Errorf("realtime dial: %w", err))
	}
	closers = append(closers, func() { _ = wsClient.Close() })
	transport = wsClient

	if publisher != nil {
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, "chatd", nil, router, logger)
		if err != nil {
			return fail(fmt.Errorf("kafka consumer: %w", err))
		}
		closers = append(closers, func() { _ = consumer.Close() })
		topic := cfg.KafkaTopicPrefix + "rooms.events.v1"
		go func() {
			if err := consumer.Run(ctx, []string{topic}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
	}

	app := application{
		handlers: ginserver.Handlers{
			Rooms: ginserver.RoomHandler{
				Sessions: manager,
				Uploads:  uploads,
				Logger:   logger,
			},
			Identity: ginserver.IdentityMiddleware{}.Handle,
		},
		ready: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := mongoClient.Ping(pingCtx); err != nil {
				return fmt.Errorf("mongo: %w", err)
			}
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	}
	return app, cleanup, nil
}

type sessionDeps struct {
	cfg       config.Config
	logger    *slog.Logger
	rooms     *mongodb.RoomRepository
	tracker   *presence.RedisTracker
	source    history.Source
	archive   session.Archiver
	transport session.Transport
	api       session.WorkflowAPI
	events    *outbox.Relay
}

// buildSession assembles one user's view of a room. The room must have been
// provisioned by the marketplace before anyone can enter it; the persisted
// snapshot tells us who sits on each side and where the workflow stands.
func buildSession(ctx context.Context, deps sessionDeps, roomID string, userID int64) (*session.Session, error) {
	record, err := deps.rooms.Snapshot(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	if userID != record.EmployerID && userID != record.FreelancerID {
		return nil, fmt.Errorf("user %d is not a participant of room %s", userID, roomID)
	}
	employer := userID == record.EmployerID
	peerID := record.FreelancerID
	if !employer {
		peerID = record.EmployerID
	}

	initial := workflow.StatusIdle
	if status, ok := workflow.FromAPIStatus(record.Status); ok {
		initial = status
	}
	machine := workflow.NewMachine(record.WorkflowID, initial, deps.cfg.GraceWindow)

	messages := store.NewMessageStore()
	loader := history.NewLoader(messages, deps.source, roomID, deps.cfg.HistoryPageSize)

	params := session.Params{
		RoomID:   roomID,
		UserID:   userID,
		PeerID:   peerID,
		Employer: employer,
		Snapshot: chat.RoomSnapshot{
			Room: chat.Room{
				ID: roomID,
				Post: chat.Post{
					ID:     record.PostID,
					Name:   record.PostName,
					Budget: record.PostBudget,
				},
				CurrentCommentID: record.CurrentCommentID,
			},
			Workflow: chat.WorkflowInfo{
				ID:                 record.WorkflowID,
				Status:             record.Status,
				StatusBeforeCancel: record.StatusBeforeCancel,
			},
		},
		Store:        messages,
		Reads:        deps.tracker,
		Presence:     deps.tracker,
		Loader:       loader,
		Transport:    deps.transport,
		Machine:      machine,
		API:          deps.api,
		Rooms:        deps.rooms,
		Archive:      deps.archive,
		Logger:       deps.logger,
		ReadDebounce: deps.cfg.ReadDebounce,
		TypingIdle:   deps.cfg.TypingIdle,
	}
	if employer && record.EmployerWalletID != "" {
		if client, ok := deps.api.(*api.Client); ok {
			params.WalletID = record.EmployerWalletID
			params.Wallet = client.Wallet(record.EmployerWalletID)
		}
	}
	if deps.events != nil {
		params.Events = deps.events
	}
	return session.New(params)
}
