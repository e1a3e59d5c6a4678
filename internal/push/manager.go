package push

import "sync"

// Manager 管理所有推送会话
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Add 登记会话，返回被同一客户端 ID 顶替的旧会话（没有则为 nil）
func (m *Manager) Add(s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.sessions[s.ID()]
	m.sessions[s.ID()] = s
	return old
}

// Remove 移除会话；仅当登记的仍是这个会话时才移除
func (m *Manager) Remove(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.ID()]; ok && cur == s {
		delete(m.sessions, s.ID())
		return true
	}
	return false
}

func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All 返回所有会话（用于心跳检测和关闭）
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
