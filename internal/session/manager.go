// Package session owns the per-browser form sessions. Each session holds
// exactly one judgements form and one OCR form; nothing is shared between
// sessions.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/judgments-ocr/frontend/internal/judgments"
	"github.com/judgments-ocr/frontend/internal/metrics"
	"github.com/judgments-ocr/frontend/internal/ocr"
	"github.com/judgments-ocr/frontend/internal/storage"
	"go.uber.org/zap"
)

// DefaultMaxSessions limits live sessions to bound staging disk usage
const DefaultMaxSessions = 1000

// FormSession is the form state of one browser.
type FormSession struct {
	ID        string
	Judgments *judgments.Form
	OCR       *ocr.Form
	CreatedAt time.Time

	mu           sync.Mutex
	lastAccessed time.Time
	jobs         map[string]string
}

// LastAccessed returns when the session was last used.
func (s *FormSession) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

func (s *FormSession) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccessed = now
	s.mu.Unlock()
}

// SetJob records id as the latest background job of the given kind.
func (s *FormSession) SetJob(kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs == nil {
		s.jobs = make(map[string]string)
	}
	s.jobs[kind] = id
}

// JobID returns the latest background job of the given kind, or "".
func (s *FormSession) JobID(kind string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[kind]
}

// Busy reports whether either form has a request in flight.
func (s *FormSession) Busy() bool {
	return s.Judgments.Busy() || s.OCR.Busy()
}

// release drops both forms' state and staged files. A request still in
// flight deletes its own files when it finishes.
func (s *FormSession) release() {
	s.Judgments.Release()
	s.OCR.RemoveImage()
}

// Options configures a Manager.
type Options struct {
	Store     storage.Store
	Uploader  judgments.Uploader
	Extractor ocr.Extractor
	Locator   ocr.Locator
	Logger    *zap.Logger
	MaxFiles  int

	// MaxImageBytes caps an OCR image; <= 0 selects ocr.DefaultMaxImageBytes.
	MaxImageBytes int64
	MaxSessions   int
}

// Manager handles live form sessions.
type Manager struct {
	sessions map[string]*FormSession
	mu       sync.RWMutex
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a new session manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	return &Manager{
		sessions: make(map[string]*FormSession),
		opts:     opts,
		logger:   opts.Logger.Named("session"),
		now:      time.Now,
	}
}

// Create starts a new session with empty forms.
func (m *Manager) Create() *FormSession {
	m.evictIfFull()

	id := uuid.New().String()
	logger := m.logger.With(zap.String("session", id[:8]))
	now := m.now()
	s := &FormSession{
		ID:           id,
		Judgments:    judgments.NewForm(m.opts.Store, m.opts.Uploader, logger, m.opts.MaxFiles),
		OCR:          ocr.NewForm(m.opts.Store, m.opts.Extractor, m.opts.Locator, logger, m.opts.MaxImageBytes),
		CreatedAt:    now,
		lastAccessed: now,
	}

	m.mu.Lock()
	m.sessions[id] = s
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	logger.Debug("session created")
	return s
}

// Get returns a session and marks it as used.
func (m *Manager) Get(id string) (*FormSession, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.touch(m.now())
	return s, true
}

// GetOrCreate returns the session for id, or a new one if id is unknown.
// The boolean reports whether a new session was created.
func (m *Manager) GetOrCreate(id string) (*FormSession, bool) {
	if id != "" {
		if s, ok := m.Get(id); ok {
			return s, false
		}
	}
	return m.Create(), true
}

// Delete releases a session and its staged files.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		metrics.SessionsActive.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if ok {
		s.release()
	}
	return ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions releases sessions idle for longer than maxAge. Sessions
// with a request in flight are kept until it finishes.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var expired []*FormSession
	for id, s := range m.sessions {
		if s.LastAccessed().Before(cutoff) && !s.Busy() {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, s := range expired {
		s.release()
	}
	if len(expired) > 0 {
		m.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// evictIfFull drops the least recently used idle sessions when at capacity.
func (m *Manager) evictIfFull() {
	m.mu.Lock()
	if len(m.sessions) < m.opts.MaxSessions {
		m.mu.Unlock()
		return
	}

	candidates := make([]*FormSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.Busy() {
			candidates = append(candidates, s)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccessed().Before(candidates[j].LastAccessed())
	})

	excess := len(m.sessions) - m.opts.MaxSessions + 1
	if excess > len(candidates) {
		excess = len(candidates)
	}
	evicted := candidates[:excess]
	for _, s := range evicted {
		delete(m.sessions, s.ID)
	}
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, s := range evicted {
		s.release()
	}
	if len(evicted) > 0 {
		m.logger.Warn("session limit reached, evicted idle sessions", zap.Int("count", len(evicted)))
	}
}

// Close releases every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*FormSession)
	metrics.SessionsActive.Set(0)
	m.mu.Unlock()

	for _, s := range all {
		s.release()
	}
}
