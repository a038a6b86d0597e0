package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/dermassist/internal/observability/metrics"
	"github.com/wolfman30/dermassist/pkg/logging"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// Greeting seeds every transcript.
	Greeting = "Hello! I'm your AI assistant. Ask me about skin conditions, symptoms, treatments, or how to use this app."
	// Fallback replaces any failed assistant turn.
	Fallback = "Sorry, I encountered an error. Please try again."
)

// Status is the per-turn state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSending Status = "sending"
)

// Message is one transcript entry.
type Message struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Position int    `json:"position"`
}

// Turns sends one user message and returns the assistant reply.
// *diagnosis.Client satisfies it.
type Turns interface {
	SendChatTurn(ctx context.Context, text string) (string, error)
}

// Snapshot is the rendered chat state.
type Snapshot struct {
	Status     Status    `json:"status"`
	Transcript []Message `json:"transcript"`
}

// Listener receives a snapshot after each transcript or status change. It
// runs under the workflow lock and must not call back into the Workflow.
type Listener func(Snapshot)

// Workflow keeps an append-only transcript and allows one turn in flight.
type Workflow struct {
	turns   Turns
	logger  *logging.Logger
	metrics *metrics.WorkflowMetrics

	mu         sync.Mutex
	status     Status
	transcript []Message
	listeners  []Listener
	wg         sync.WaitGroup
}

// New returns an idle workflow whose transcript holds only the greeting.
func New(turns Turns, logger *logging.Logger, m *metrics.WorkflowMetrics) *Workflow {
	if turns == nil {
		panic("chat: turns client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Workflow{
		turns:      turns,
		logger:     logger,
		metrics:    m,
		status:     StatusIdle,
		transcript: []Message{{Role: RoleAssistant, Content: Greeting, Position: 0}},
	}
}

func (w *Workflow) Subscribe(l Listener) {
	if l == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Wait blocks until the in-flight turn, if any, has been appended.
func (w *Workflow) Wait() {
	w.wg.Wait()
}

// Send appends text as a user message and starts the assistant turn. Blank
// input and sends while a turn is outstanding are ignored.
func (w *Workflow) Send(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		w.metrics.ObserveIgnored("chat_blank")
		return false
	}

	w.mu.Lock()
	if w.status == StatusSending {
		w.mu.Unlock()
		w.metrics.ObserveIgnored("chat_busy")
		return false
	}
	w.status = StatusSending
	w.appendLocked(RoleUser, text)
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.exchange(context.WithoutCancel(ctx), text)
	}()
	return true
}

func (w *Workflow) exchange(ctx context.Context, text string) {
	start := time.Now()
	reply, err := w.turns.SendChatTurn(ctx, text)
	w.metrics.ObserveStage(metrics.StageChat, err, time.Since(start).Seconds())
	if err != nil {
		w.logger.Error("chat turn failed", "error", err)
		reply = Fallback
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = StatusIdle
	w.appendLocked(RoleAssistant, reply)
}

func (w *Workflow) appendLocked(role Role, content string) {
	w.transcript = append(w.transcript, Message{
		Role:     role,
		Content:  content,
		Position: len(w.transcript),
	})
	snap := w.snapshotLocked()
	for _, l := range w.listeners {
		l(snap)
	}
}

func (w *Workflow) snapshotLocked() Snapshot {
	transcript := make([]Message, len(w.transcript))
	copy(transcript, w.transcript)
	return Snapshot{Status: w.status, Transcript: transcript}
}
