package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wolfman30/dermassist/pkg/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTurns struct {
	mu    sync.Mutex
	sent  []string
	reply string
	err   error
	gate  chan struct{}
}

func (f *fakeTurns) SendChatTurn(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeTurns) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestTranscriptStartsWithGreeting(t *testing.T) {
	w := New(&fakeTurns{}, logging.Discard(), nil)
	snap := w.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, []Message{{Role: RoleAssistant, Content: Greeting, Position: 0}}, snap.Transcript)
}

func TestBlankInputIsNoop(t *testing.T) {
	turns := &fakeTurns{reply: "hi"}
	w := New(turns, logging.Discard(), nil)

	for _, input := range []string{"", "   ", "\n\t "} {
		assert.False(t, w.Send(context.Background(), input))
	}
	w.Wait()
	assert.Len(t, w.Snapshot().Transcript, 1)
	assert.Zero(t, turns.count())
}

func TestSuccessfulTurnAppendsUserThenAssistant(t *testing.T) {
	turns := &fakeTurns{reply: "Eczema is not contagious."}
	w := New(turns, logging.Discard(), nil)

	require.True(t, w.Send(context.Background(), "  Is eczema contagious?  "))
	w.Wait()

	snap := w.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	require.Len(t, snap.Transcript, 3)
	assert.Equal(t, Message{Role: RoleUser, Content: "Is eczema contagious?", Position: 1}, snap.Transcript[1])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "Eczema is not contagious.", Position: 2}, snap.Transcript[2])
	assert.Equal(t, []string{"Is eczema contagious?"}, turns.sent)
}

func TestFailedTurnAppendsFallbackNotErrorText(t *testing.T) {
	turns := &fakeTurns{err: errors.New("chat turn failed: status 502: upstream timeout")}
	w := New(turns, logging.Discard(), nil)

	require.True(t, w.Send(context.Background(), "hello"))
	w.Wait()

	snap := w.Snapshot()
	require.Len(t, snap.Transcript, 3)
	assert.Equal(t, RoleUser, snap.Transcript[1].Role)
	assert.Equal(t, "hello", snap.Transcript[1].Content)
	assert.Equal(t, Fallback, snap.Transcript[2].Content)
	for _, msg := range snap.Transcript {
		assert.NotContains(t, msg.Content, "502")
	}
}

func TestUserMessageIsAppendedBeforeReply(t *testing.T) {
	gate := make(chan struct{})
	turns := &fakeTurns{reply: "ok", gate: gate}
	w := New(turns, logging.Discard(), nil)

	require.True(t, w.Send(context.Background(), "first"))
	snap := w.Snapshot()
	assert.Equal(t, StatusSending, snap.Status)
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, "first", snap.Transcript[1].Content)

	assert.False(t, w.Send(context.Background(), "second"))
	close(gate)
	w.Wait()

	assert.Len(t, w.Snapshot().Transcript, 3)
	assert.Equal(t, 1, turns.count())
}

func TestTranscriptGrowsMonotonically(t *testing.T) {
	turns := &fakeTurns{reply: "noted"}
	w := New(turns, logging.Discard(), nil)

	var (
		mu    sync.Mutex
		sizes []int
	)
	w.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(s.Transcript))
	})

	for _, text := range []string{"one", "two", "three"} {
		require.Eventually(t, func() bool { return w.Send(context.Background(), text) }, time.Second, time.Millisecond)
		w.Wait()
	}

	snap := w.Snapshot()
	require.Len(t, snap.Transcript, 7)
	for i, msg := range snap.Transcript {
		assert.Equal(t, i, msg.Position)
	}
	assert.Equal(t, []string{"one", "noted", "two", "noted", "three", "noted"}, []string{
		snap.Transcript[1].Content, snap.Transcript[2].Content,
		snap.Transcript[3].Content, snap.Transcript[4].Content,
		snap.Transcript[5].Content, snap.Transcript[6].Content,
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7}, sizes)
}
