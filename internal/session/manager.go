package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/wolfman30/dermassist/internal/chat"
	"github.com/wolfman30/dermassist/internal/observability/metrics"
	"github.com/wolfman30/dermassist/internal/playback"
	"github.com/wolfman30/dermassist/internal/prediction"
	"github.com/wolfman30/dermassist/pkg/logging"
)

const defaultTTL = 30 * time.Minute

// Deps are the shared collaborators handed to every session.
type Deps struct {
	Classifier  prediction.Classifier
	Synthesizer prediction.Synthesizer
	Recorder    prediction.Recorder
	Chat        chat.Turns
	Metrics     *metrics.WorkflowMetrics
	Logger      *logging.Logger
	Now         func() time.Time
}

// Manager owns live sessions. Sessions idle longer than the TTL are evicted.
type Manager struct {
	deps     Deps
	ttl      time.Duration
	sessions *cache.Cache
	logger   *logging.Logger
}

// NewManager creates a manager whose sessions expire after ttl without access.
func NewManager(deps Deps, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Manager{
		deps:     deps,
		ttl:      ttl,
		sessions: cache.New(ttl, ttl/2),
		logger:   deps.Logger,
	}
	m.sessions.OnEvicted(func(id string, v interface{}) {
		s, ok := v.(*Session)
		if !ok {
			return
		}
		// go-cache runs eviction callbacks outside its lock, so re-adding is safe.
		if !s.expire() {
			m.logger.Debug("session kept alive by open stream", "session_id", id)
			m.sessions.SetDefault(id, s)
			return
		}
		m.logger.Debug("session expired", "session_id", id)
		go s.wait()
	})
	return m
}

// Create starts a fresh session.
func (m *Manager) Create() *Session {
	id := uuid.NewString()
	logger := m.logger.With("session_id", id)
	player := playback.NewController(nil)
	wf := prediction.New(prediction.Options{
		Classifier:  m.deps.Classifier,
		Synthesizer: m.deps.Synthesizer,
		Recorder:    m.deps.Recorder,
		Playback:    player,
		Metrics:     m.deps.Metrics,
		Logger:      logger,
		Now:         m.deps.Now,
	})
	cw := chat.New(m.deps.Chat, logger, m.deps.Metrics)

	s := newSession(id, m.deps.Now(), wf, cw, player)
	m.sessions.SetDefault(id, s)
	logger.Info("session created")
	return s
}

// Get returns the session and extends its lifetime. Closed sessions are
// never returned or re-added.
func (m *Manager) Get(id string) (*Session, bool) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	if s.isClosed() {
		m.sessions.Delete(id)
		return nil, false
	}
	m.sessions.SetDefault(id, s)
	// The janitor may have evicted and closed s between the two calls above.
	if s.isClosed() {
		m.sessions.Delete(id)
		return nil, false
	}
	return s, true
}

// Touch extends the lifetime of a live session without returning it.
func (m *Manager) Touch(id string) {
	_, _ = m.Get(id)
}

// keepAliveInterval is how often an attached stream refreshes its session.
func (m *Manager) keepAliveInterval() time.Duration {
	return max(min(pingPeriod, m.ttl/3), time.Millisecond)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.ItemCount()
}

// Close ends every session and waits for in-flight stages to finish.
func (m *Manager) Close() {
	// Items skips expired entries, so settle those through OnEvicted first.
	m.sessions.DeleteExpired()
	items := m.sessions.Items()
	m.sessions.Flush()
	for _, item := range items {
		if s, ok := item.Object.(*Session); ok {
			s.close()
		}
	}
}
