package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// HeartbeatChecker 心跳超时检测器
type HeartbeatChecker struct {
	manager       *Manager
	timeout       time.Duration
	checkInterval time.Duration
	logger        *slog.Logger
	onTimeout     func(s *Session) // 超时回调
}

// NewHeartbeatChecker 创建心跳检测器
func NewHeartbeatChecker(manager *Manager, timeout, checkInterval time.Duration, onTimeout func(s *Session)) *HeartbeatChecker {
	// 设置默认值
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}

	return &HeartbeatChecker{
		manager:       manager,
		timeout:       timeout,
		checkInterval: checkInterval,
		logger:        slog.Default(),
		onTimeout:     onTimeout,
	}
}

// Start 启动心跳检测（阻塞，应在 goroutine 中调用）
func (h *HeartbeatChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	h.logger.Info("Heartbeat checker started",
		"timeout", h.timeout,
		"checkInterval", h.checkInterval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Heartbeat checker stopped")
			return
		case <-ticker.C:
			h.CheckOnce(time.Now())
		}
	}
}

// CheckOnce 关闭超时会话，返回关闭数量
func (h *HeartbeatChecker) CheckOnce(now time.Time) int {
	sessions := h.manager.All()
	timeoutCount := 0

	for _, s := range sessions {
		lastActive := s.LastActiveTime()
		if now.Sub(lastActive) <= h.timeout {
			continue
		}
		timeoutCount++
		h.logger.Debug("Push session heartbeat timeout",
			"clientId", s.ID(),
			"lastActive", lastActive,
			"timeout", h.timeout)

		if h.manager.Remove(s) && h.onTimeout != nil {
			h.onTimeout(s)
		}
		s.Close(websocket.CloseGoingAway, "heartbeat timeout")
	}

	if timeoutCount > 0 {
		h.logger.Info("Heartbeat check completed",
			"total", len(sessions),
			"timeout", timeoutCount)
	}
	return timeoutCount
}
