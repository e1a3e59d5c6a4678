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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"sudooom.hrchat/internal/broker"
	"sudooom.hrchat/internal/config"
	"sudooom.hrchat/internal/feed"
	"sudooom.hrchat/internal/handler"
	"sudooom.hrchat/internal/health"
	"sudooom.hrchat/internal/identity"
	"sudooom.hrchat/internal/push"
	"sudooom.hrchat/internal/router"
	"sudooom.hrchat/internal/seed"
	"sudooom.hrchat/internal/service"
	"sudooom.hrchat/internal/store"
	"sudooom.hrchat/internal/store/memory"
	"sudooom.hrchat/internal/store/postgres"
	"sudooom.hrchat/internal/workerpool"
)

// changeFeed 按配置选出的变更通知源
type changeFeed struct {
	feed    feed.Feed
	emitter feed.Emitter // 存储层写入后调用；postgres 由触发器通知，为 nil
	runner  feed.Runner
	nc      *nats.Conn
	redis   *redis.Client
}

func main() {
	// .env 可选
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load(configPath())
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.App.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	var db *pgxpool.Pool
	if cfg.Store.Driver == "postgres" {
		db, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)
	}

	// 变更通知源（postgres 需要存储层回读，存储创建后再补上）
	cf := newChangeFeed(cfg, db, logger)

	// 初始化存储
	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		pgStore := postgres.New(db, int64(cfg.App.NodeID), cf.emitter)
		if err := pgStore.EnsureSchema(ctx, cfg.Feed.Channel); err != nil {
			logger.Error("Failed to apply schema", "error", err)
			os.Exit(1)
		}
		if cfg.Feed.Driver == "postgres" {
			pf := feed.NewPostgres(db, pgStore, cfg.Feed.Channel)
			cf.feed, cf.runner = pf, pf
		}
		st = pgStore
	case "memory":
		st = memory.New(cf.emitter)
	default:
		logger.Error("Unknown store driver", "driver", cfg.Store.Driver)
		os.Exit(1)
	}

	if cfg.Store.SeedFile != "" {
		if err := applySeed(ctx, st, cfg.Store.SeedFile, logger); err != nil {
			logger.Error("Failed to seed conversations", "error", err)
			os.Exit(1)
		}
	}

	// 启动变更通知源，失败只降级推送
	if cf.runner != nil {
		if err := cf.runner.Start(ctx); err != nil {
			logger.Warn("Change feed failed to start, push degraded", "driver", cfg.Feed.Driver, "error", err)
		}
	}

	// 扇出
	b := broker.New(st, workerpool.New(cfg.Broker.Workers, cfg.Broker.QueueSize))
	b.Start(cf.feed)

	// 初始化 Service
	resolver := identity.NewResolver(cfg.Identity.HRSenderID, cfg.Identity.HRMarker, cfg.Identity.HRNames...)
	convService := service.NewConversationService(st)
	messageService := service.NewMessageService(convService, st, st, resolver)

	// 推送
	sessions := push.NewManager()
	pushServer := push.NewServer(b, convService, sessions, cfg.Push)
	heartbeat := push.NewHeartbeatChecker(sessions, cfg.Push.HeartbeatTimeout, cfg.Push.HeartbeatInterval, pushServer.OnSessionTimeout)
	go heartbeat.Start(ctx)

	// 设置路由
	convHandler := handler.NewConversationHandler(convService, messageService, resolver)
	r := router.SetupRouter(cfg, convHandler, pushServer)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler: r,
	}
	go func() {
		logger.Info("HTTP server started", "addr", srv.Addr, "mode", cfg.App.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 启动健康检查 HTTP 服务
	opts := []health.Option{health.WithBroker(b), health.WithSessions(sessions)}
	if pinger, ok := st.(health.Pinger); ok {
		opts = append(opts, health.WithDatabase(pinger))
	}
	if cf.nc != nil {
		opts = append(opts, health.WithNATS(cf.nc))
	}
	if cf.redis != nil {
		opts = append(opts, health.WithRedis(cf.redis))
	}
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.HealthPort),
		Handler: health.NewChecker(cf.feed, opts...).Mux(),
	}
	go func() {
		logger.Info("Health check server started", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed", "error", err)
		}
	}()

	logger.Info("HR chat service started",
		"name", cfg.App.Name,
		"store", cfg.Store.Driver,
		"feed", cfg.Feed.Driver,
		"feedAvailable", cf.feed.Available())

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", "error", err)
	}
	_ = healthServer.Shutdown(shutdownCtx)
	pushServer.Shutdown()

	if cf.runner != nil {
		if err := cf.runner.Close(); err != nil {
			logger.Warn("Change feed close", "error", err)
		}
	}
	b.Shutdown()
	st.Close()
	if cf.nc != nil {
		cf.nc.Close()
	}
	if cf.redis != nil {
		_ = cf.redis.Close()
	}
	logger.Info("Server stopped")
}

func configPath() string {
	if p := os.Getenv("HRCHAT_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("configs/config.yaml"); err == nil {
		return "configs/config.yaml"
	}
	return ""
}

// newChangeFeed 按 feed.driver 创建通知源。外部依赖连接失败时降级为 Noop。
func newChangeFeed(cfg *config.Config, db *pgxpool.Pool, logger *slog.Logger) *changeFeed {
	cf := &changeFeed{feed: feed.Noop{}}

	switch cfg.Feed.Driver {
	case "local":
		l := feed.NewLocal()
		cf.feed, cf.emitter = l, l

	case "nats":
		nc, err := feed.Connect(cfg.NATS)
		if err != nil {
			logger.Warn("Failed to connect to NATS, push degraded", "url", cfg.NATS.URL, "error", err)
			return cf
		}
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
		n := feed.NewNATS(nc, cfg.Feed.Subject)
		cf.feed, cf.emitter, cf.runner, cf.nc = n, n, n, nc

	case "redis":
		client := connectRedis(cfg.Redis)
		logger.Info("Connected to Redis", "host", cfg.Redis.Host)
		r := feed.NewRedis(client, cfg.Feed.Channel)
		cf.feed, cf.emitter, cf.runner, cf.redis = r, r, r, client

	case "postgres":
		if db == nil {
			logger.Warn("Postgres change feed requires the postgres store, push degraded")
		}

	case "none":
		logger.Info("Change feed disabled")

	default:
		logger.Warn("Unknown feed driver, push degraded", "driver", cfg.Feed.Driver)
	}
	return cf
}

func applySeed(ctx context.Context, p store.Provisioner, path string, logger *slog.Logger) error {
	f, err := seed.Load(path)
	if err != nil {
		return err
	}
	res, err := seed.Apply(ctx, p, f)
	if err != nil {
		return err
	}
	logger.Info("Conversations seeded", "file", path, "created", res.Created, "skipped", res.Skipped)
	return nil
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
