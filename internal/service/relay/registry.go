package relay

import (
	"context"
	"sync"
)

// Registry 记录正在运行的会话，用于优雅关闭
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewRegistry 创建会话注册表
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add 注册会话
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 同一 ID 只保留一个会话
	if old, exists := r.sessions[s.ID()]; exists && old != s {
		old.Close()
	}
	r.sessions[s.ID()] = s
}

// Remove 移除会话，不会关闭它
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len 当前会话数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll 通知所有会话退出，并等待事件循环结束或 ctx 超时
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
