package playback

import (
	"sync"

	"github.com/wolfman30/dermassist/internal/diagnosis"
)

// Status is the playing/paused flag shown on the audio toggle.
type Status string

const (
	StatusPaused  Status = "paused"
	StatusPlaying Status = "playing"
)

// Player drives the actual audio output. The web bridge has no device of its
// own, so a nil Player is allowed and only the flag is tracked.
type Player interface {
	Play(clip *diagnosis.AudioClip) error
	Pause() error
}

// State is a point-in-time view of the controller.
type State struct {
	Status     Status `json:"status"`
	HasClip    bool   `json:"has_clip"`
	Disease    string `json:"disease,omitempty"`
	Language   string `json:"language,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Size       int    `json:"size,omitempty"`
}

// Controller holds at most one clip and its play/pause flag.
type Controller struct {
	mu     sync.Mutex
	clip   *diagnosis.AudioClip
	status Status
	player Player
}

// NewController returns a paused controller with no clip.
func NewController(player Player) *Controller {
	return &Controller{status: StatusPaused, player: player}
}

// Attach replaces the current clip. Passing nil detaches. Either way the
// controller ends up paused; a new clip never autoplays.
func (c *Controller) Attach(clip *diagnosis.AudioClip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusPlaying && c.player != nil {
		_ = c.player.Pause()
	}
	c.clip = clip
	c.status = StatusPaused
}

// Toggle flips between playing and paused and reports whether anything
// happened. Without a clip it is a no-op.
func (c *Controller) Toggle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clip == nil {
		return false
	}
	if c.status == StatusPlaying {
		if c.player != nil {
			if err := c.player.Pause(); err != nil {
				return false
			}
		}
		c.status = StatusPaused
		return true
	}
	if c.player != nil {
		if err := c.player.Play(c.clip); err != nil {
			return false
		}
	}
	c.status = StatusPlaying
	return true
}

// Ended resets the flag once the clip finishes on its own.
func (c *Controller) Ended() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusPaused
}

// Clip returns the attached clip, if any.
func (c *Controller) Clip() *diagnosis.AudioClip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clip
}

// State snapshots the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{Status: c.status, HasClip: c.clip != nil}
	if c.clip != nil {
		st.Disease = c.clip.Disease
		st.Language = string(c.clip.Language)
		st.Generation = c.clip.Generation
		st.Size = c.clip.Size()
	}
	return st
}
