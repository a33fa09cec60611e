package session

import (
	"sort"
	"sync"
	"time"

	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager manages the sessions of many devices, keyed by device key.
type Manager struct {
	sessions      map[string]*Session
	mutex         sync.RWMutex
	decoder       domain.BlockDecoder
	opts          Options
	logger        zerolog.Logger
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewManager creates a session manager and starts its cleanup routine.
func NewManager(decoder domain.BlockDecoder, opts Options) *Manager {
	opts = opts.withDefaults()
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	m := &Manager{
		sessions:    make(map[string]*Session),
		decoder:     decoder,
		opts:        opts,
		logger:      logger.With().Str("component", "session_manager").Logger(),
		stopCleanup: make(chan struct{}),
	}
	m.startCleanupRoutine()
	return m
}

// GetOrCreate returns the session of a device, creating it on first use.
func (m *Manager) GetOrCreate(deviceKey string) *Session {
	m.mutex.RLock()
	s, ok := m.sessions[deviceKey]
	m.mutex.RUnlock()
	if ok {
		return s
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if s, ok := m.sessions[deviceKey]; ok {
		return s
	}
	s = NewSession(deviceKey, m.decoder, m.opts)
	m.sessions[deviceKey] = s
	m.opts.Metrics.setSessions(len(m.sessions))

	m.logger.Info().
		Str("device", deviceKey).
		Str("session_id", s.ID).
		Msg("Session created")
	return s
}

// Get retrieves a session by device key.
func (m *Manager) Get(deviceKey string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, ok := m.sessions[deviceKey]
	return s, ok
}

// Ingest routes a block payload to the session of a device.
func (m *Manager) Ingest(deviceKey string, blockID uint16, payload []byte) (*Outcome, error) {
	return m.GetOrCreate(deviceKey).Ingest(blockID, payload)
}

// All returns statistics for all sessions ordered by device key.
func (m *Manager) All() []SessionStats {
	m.mutex.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mutex.RUnlock()

	stats := make([]SessionStats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.GetStats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].DeviceKey < stats[j].DeviceKey })
	return stats
}

// Remove drops the session of a device.
func (m *Manager) Remove(deviceKey string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.sessions[deviceKey]; !ok {
		return false
	}
	delete(m.sessions, deviceKey)
	m.opts.Metrics.setSessions(len(m.sessions))
	return true
}

// CleanupExpiredSessions removes sessions idle for longer than the timeout.
func (m *Manager) CleanupExpiredSessions() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var expired []string
	for key, s := range m.sessions {
		if s.IsExpired(m.opts.Timeout) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(m.sessions, key)
	}
	if len(expired) > 0 {
		m.opts.Metrics.setSessions(len(m.sessions))
	}
	return len(expired)
}

// Count returns the number of sessions.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Close stops the cleanup routine and drops all sessions.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCleanup)
		if m.cleanupTicker != nil {
			m.cleanupTicker.Stop()
		}

		m.mutex.Lock()
		defer m.mutex.Unlock()
		m.sessions = make(map[string]*Session)
		m.opts.Metrics.setSessions(0)
	})
}

// startCleanupRoutine starts a goroutine to periodically clean up expired sessions.
func (m *Manager) startCleanupRoutine() {
	m.cleanupTicker = time.NewTicker(m.opts.CleanupInterval)

	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				if cleaned := m.CleanupExpiredSessions(); cleaned > 0 {
					m.logger.Info().Int("sessions", cleaned).Msg("Expired sessions removed")
				}
			case <-m.stopCleanup:
				return
			}
		}
	}()
}
