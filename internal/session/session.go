package session

import (
	"sync"
	"time"

	"github.com/wolfman30/dermassist/internal/chat"
	"github.com/wolfman30/dermassist/internal/playback"
	"github.com/wolfman30/dermassist/internal/prediction"
)

// Session bundles the per-user workflows behind one id.
type Session struct {
	ID         string
	CreatedAt  time.Time
	Prediction *prediction.Workflow
	Chat       *chat.Workflow
	Playback   *playback.Controller

	mu          sync.Mutex
	subscribers map[chan struct{}]struct{}
	done        chan struct{}
	closed      bool
}

// Snapshot is the combined state pushed to the rendering layer.
type Snapshot struct {
	SessionID  string              `json:"session_id"`
	Prediction prediction.Snapshot `json:"prediction"`
	Chat       chat.Snapshot       `json:"chat"`
	Playback   playback.State      `json:"playback"`
}

func newSession(id string, now time.Time, wf *prediction.Workflow, cw *chat.Workflow, pc *playback.Controller) *Session {
	s := &Session{
		ID:          id,
		CreatedAt:   now,
		Prediction:  wf,
		Chat:        cw,
		Playback:    pc,
		subscribers: make(map[chan struct{}]struct{}),
		done:        make(chan struct{}),
	}
	// Workflow listeners run under the workflow lock, so they only signal;
	// subscribers read the snapshot themselves.
	wf.Subscribe(func(prediction.Snapshot) { s.notify() })
	cw.Subscribe(func(chat.Snapshot) { s.notify() })
	return s
}

// Snapshot reads every component. Prediction and playback are read under the
// prediction lock, so audio_available and has_clip always agree; chat is read
// separately. It must not be called from a workflow listener.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{SessionID: s.ID}
	s.Prediction.View(func(p prediction.Snapshot) {
		snap.Prediction = p
		snap.Playback = s.Playback.State()
	})
	snap.Chat = s.Chat.Snapshot()
	return snap
}

// ToggleAudio flips playback of the live clip.
func (s *Session) ToggleAudio() bool {
	ok := s.Playback.Toggle()
	if ok {
		s.notify()
	}
	return ok
}

// AudioEnded resets playback after the clip finished.
func (s *Session) AudioEnded() {
	s.Playback.Ended()
	s.notify()
}

// Subscribe returns a channel that receives a signal whenever state changes.
// Signals coalesce; the receiver should read a fresh Snapshot on each one.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
}

// Done is closed when the session expires or the service shuts down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// expire closes the session unless a stream is attached. It reports whether
// the session is now closed.
func (s *Session) expire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && len(s.subscribers) > 0 {
		return false
	}
	s.shutdownLocked()
	return true
}

func (s *Session) shutdownLocked() {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// close ends subscriptions and waits for in-flight stages.
func (s *Session) close() {
	s.mu.Lock()
	s.shutdownLocked()
	s.mu.Unlock()
	s.wait()
}

func (s *Session) wait() {
	s.Prediction.Wait()
	s.Chat.Wait()
}
