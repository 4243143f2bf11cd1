// Package session scopes drafts, flash messages and saved records to one browser.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// Draft is the transcribed but not yet saved upload of a session
type Draft struct {
	Audio      []byte
	AudioName  string
	AudioMIME  string
	Transcript string
	Model      string
	Language   string
	Duration   time.Duration
	CreatedAt  time.Time
}

// RecordRemover deletes the saved records of an ended session
type RecordRemover interface {
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
}

// Config represents session manager configuration
type Config struct {
	CookieName    string
	TTL           time.Duration
	SweepInterval time.Duration
	Secure        bool
}

type state struct {
	draft    *Draft
	flash    string
	lastSeen time.Time
}

// Manager tracks live sessions and expires idle ones
type Manager struct {
	config   Config
	remover  RecordRemover
	logger   *logger.Logger
	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*state

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new session manager. remover may be nil.
func NewManager(config Config, remover RecordRemover, logger *logger.Logger) *Manager {
	if config.CookieName == "" {
		config.CookieName = "vmt_session"
	}
	if config.TTL <= 0 {
		config.TTL = 2 * time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:   config,
		remover:  remover,
		logger:   logger.Named("session"),
		now:      time.Now,
		sessions: make(map[string]*state),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Resolve returns the session of the request, starting a new one and setting
// its cookie when the request carries no live session
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(m.config.CookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil && m.touch(id.String()) {
			return id.String()
		}
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = &state{lastSeen: m.now()}
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	m.logger.WithSession(id).Debug("Started session")
	return id
}

// Lookup returns the live session of the request without creating one
func (m *Manager) Lookup(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.config.CookieName)
	if err != nil {
		return "", false
	}
	if !m.touch(c.Value) {
		return "", false
	}
	return c.Value, true
}

func (m *Manager) touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.lastSeen = m.now()
	}
	return ok
}

// SetDraft replaces the session's draft
func (m *Manager) SetDraft(id string, draft *Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.draft = draft
	}
}

// Draft returns the session's draft, if any
func (m *Manager) Draft(id string) (*Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.draft == nil {
		return nil, false
	}
	return s.draft, true
}

// SetFlash queues a message for the next page render
func (m *Manager) SetFlash(id, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.flash = message
	}
}

// TakeFlash returns and clears the pending message
func (m *Manager) TakeFlash(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ""
	}
	msg := s.flash
	s.flash = ""
	return msg
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep ends every session idle for longer than the TTL and deletes its records
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.config.TTL)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		log := m.logger.WithSession(id)
		if m.remover == nil {
			log.Debug("Session expired")
			continue
		}
		n, err := m.remover.DeleteSession(ctx, id)
		if err != nil {
			log.Error("Failed to delete records of expired session", logger.Error(err))
			continue
		}
		log.Debug("Session expired", logger.Int64("records_deleted", n))
	}

	return len(expired)
}

// Start starts the expiry loop
func (m *Manager) Start() error {
	m.logger.Info("Starting session sweeper",
		logger.Duration("ttl", m.config.TTL),
		logger.Duration("interval", m.config.SweepInterval))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				m.logger.Info("Session sweeper stopped")
				return
			case <-ticker.C:
				if n := m.Sweep(m.ctx); n > 0 {
					m.logger.Info("Expired idle sessions", logger.Int("count", n))
				}
			}
		}
	}()
	return nil
}

// Stop stops the expiry loop
func (m *Manager) Stop() error {
	m.logger.Info("Stopping session sweeper")
	m.cancel()
	m.wg.Wait()
	return nil
}
