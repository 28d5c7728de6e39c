package session

import (
	"CardDetServer/engine"
	"CardDetServer/logger"
	"CardDetServer/monitor"
	"CardDetServer/store"
	"CardDetServer/tracker"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNoCapacity = errors.New("no available sessions")
	ErrNotFound   = errors.New("session not found")
)

const idleCheckInterval = 50 * time.Millisecond

type Options struct {
	MaxSessions int
	// zero disables idle release
	IdleTimeout time.Duration
	Detector    engine.Params
	Tracker     tracker.Config
}

// Manager 会话分配、释放与空闲回收
type Manager struct {
	opts  Options
	store *store.Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(opts Options, st *store.Store) (*Manager, error) {
	if opts.MaxSessions < 1 {
		return nil, fmt.Errorf("maxSessions must be at least 1, got %d", opts.MaxSessions)
	}
	if err := opts.Detector.Validate(); err != nil {
		return nil, fmt.Errorf("detector params: %w", err)
	}
	if err := opts.Tracker.Validate(); err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	return &Manager{
		opts:     opts,
		store:    st,
		sessions: make(map[string]*Session),
	}, nil
}

func (m *Manager) IdleTimeout() time.Duration {
	return m.opts.IdleTimeout
}

// Alloc 分配一个新会话，达到 MaxSessions 时返回 ErrNoCapacity
func (m *Manager) Alloc() (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		return nil, ErrNoCapacity
	}
	d, err := engine.NewDetector(m.opts.Detector)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	s := newSession(uuid.New().String(), d, tracker.New(m.opts.Tracker), m.store)
	m.sessions[s.ID] = s
	monitor.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	logger.ForSession(s.ID).Info("session allocated")
	if m.opts.IdleTimeout > 0 {
		m.startIdleMonitor(s)
	}
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Release 释放会话：停止处理并丢弃其跟踪状态
func (m *Manager) Release(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		monitor.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	logger.ForSession(id).Info("session released", zap.Uint64("frames", s.Info().Frames))
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns the info of every live session ordered by creation time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Close releases every session.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Release(id)
	}
}

func (m *Manager) startIdleMonitor(s *Session) {
	go func() {
		ticker := time.NewTicker(idleCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.Done():
				return
			case <-ticker.C:
				if time.Since(s.LastActive()) > m.opts.IdleTimeout {
					if m.Release(s.ID) == nil {
						logger.ForSession(s.ID).Info("idle monitor timed out",
							zap.Duration("timeout", m.opts.IdleTimeout))
					}
					return
				}
			}
		}
	}()
}
