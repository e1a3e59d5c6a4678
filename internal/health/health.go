package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"sudooom.hrchat/internal/broker"
	"sudooom.hrchat/internal/feed"
)

const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateAvailable    = "available"
	StateUnavailable  = "unavailable"
)

// Pinger 可探活的存储
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter 在线推送会话数
type SessionCounter interface {
	Count() int
}

// Status 健康状态。未启用的组件不输出。
type Status struct {
	Healthy  bool          `json:"healthy"`
	Database string        `json:"database,omitempty"`
	NATS     string        `json:"nats,omitempty"`
	Redis    string        `json:"redis,omitempty"`
	Feed     string        `json:"feed"`
	Sessions int           `json:"sessions"`
	Broker   *broker.Stats `json:"broker,omitempty"`
}

// Checker 健康检查器
type Checker struct {
	db          Pinger
	nc          *nats.Conn
	redisClient *redis.Client
	feed        feed.Feed
	broker      *broker.Broker
	sessions    SessionCounter
	timeout     time.Duration
}

// Option 可选依赖
type Option func(*Checker)

// WithDatabase 检查数据库连接
func WithDatabase(db Pinger) Option {
	return func(c *Checker) { c.db = db }
}

// WithNATS 检查 NATS 连接
func WithNATS(nc *nats.Conn) Option {
	return func(c *Checker) { c.nc = nc }
}

// WithRedis 检查 Redis 连接
func WithRedis(client *redis.Client) Option {
	return func(c *Checker) { c.redisClient = client }
}

// WithBroker 输出 broker 统计
func WithBroker(b *broker.Broker) Option {
	return func(c *Checker) { c.broker = b }
}

// WithSessions 输出在线会话数
func WithSessions(s SessionCounter) Option {
	return func(c *Checker) { c.sessions = s }
}

// NewChecker 创建健康检查器
func NewChecker(f feed.Feed, opts ...Option) *Checker {
	c := &Checker{
		feed:    f,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check 执行健康检查
//
// 变更通知源不可用只影响推送，不影响健康结论；数据库、NATS、Redis 任一断开则不健康。
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{Healthy: true}

	// 检查数据库
	if h.db != nil {
		dbCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.db.Ping(dbCtx)
		cancel()
		status.Database = connState(err == nil)
	}

	// 检查 NATS
	if h.nc != nil {
		status.NATS = connState(h.nc.IsConnected())
	}

	// 检查 Redis
	if h.redisClient != nil {
		redisCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.redisClient.Ping(redisCtx).Err()
		cancel()
		status.Redis = connState(err == nil)
	}

	if h.feed != nil && h.feed.Available() {
		status.Feed = StateAvailable
	} else {
		status.Feed = StateUnavailable
	}

	if h.sessions != nil {
		status.Sessions = h.sessions.Count()
	}
	if h.broker != nil {
		stats := h.broker.Stats()
		status.Broker = &stats
	}

	for _, s := range []string{status.Database, status.NATS, status.Redis} {
		if s == StateDisconnected {
			status.Healthy = false
		}
	}
	return status
}

// IsHealthy 检查是否健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Ready 就绪探针
func (h *Checker) Ready(w http.ResponseWriter, r *http.Request) {
	if h.IsHealthy(r.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Not Ready"))
}

// Mux 健康检查路由：/health 与 /ready
func (h *Checker) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", h)
	mux.HandleFunc("/ready", h.Ready)
	return mux
}

func connState(ok bool) string {
	if ok {
		return StateConnected
	}
	return StateDisconnected
}
