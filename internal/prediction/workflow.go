package prediction

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/dermassist/internal/diagnosis"
	"github.com/wolfman30/dermassist/internal/observability/metrics"
	"github.com/wolfman30/dermassist/internal/results"
	"github.com/wolfman30/dermassist/pkg/logging"
)

// Classifier is the classify half of the diagnosis client.
type Classifier interface {
	Classify(ctx context.Context, image []byte, mimeType string, lang diagnosis.Language) (*diagnosis.ClassificationResult, error)
}

// Synthesizer produces advisory audio.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, disease, tip string, lang diagnosis.Language) (*diagnosis.AudioClip, error)
}

// Recorder persists completed predictions on a best-effort basis.
type Recorder interface {
	Record(ctx context.Context, rec results.PredictionRecord) bool
}

// AudioSink receives the live clip whenever it changes (nil on discard).
type AudioSink interface {
	Attach(clip *diagnosis.AudioClip)
}

// Listener receives a snapshot after every applied transition. Listeners run
// under the workflow lock, in transition order, and must not call back into
// the Workflow.
type Listener func(Snapshot)

// Options configures a Workflow.
type Options struct {
	Classifier  Classifier
	Synthesizer Synthesizer
	Recorder    Recorder
	Playback    AudioSink
	Metrics     *metrics.WorkflowMetrics
	Logger      *logging.Logger
	Now         func() time.Time
}

// Workflow drives one user's image → classification → speech → record
// sequence. Intents return immediately; remote stages run on their own
// goroutines and re-enter through generation-checked transitions.
type Workflow struct {
	classifier  Classifier
	synthesizer Synthesizer
	recorder    Recorder
	playback    AudioSink
	metrics     *metrics.WorkflowMetrics
	logger      *logging.Logger
	now         func() time.Time

	mu        sync.Mutex
	state     State
	listeners []Listener
	wg        sync.WaitGroup
}

// New builds a workflow in the Empty state.
func New(opts Options) *Workflow {
	if opts.Classifier == nil {
		panic("prediction: classifier cannot be nil")
	}
	if opts.Synthesizer == nil {
		panic("prediction: synthesizer cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Workflow{
		classifier:  opts.Classifier,
		synthesizer: opts.Synthesizer,
		recorder:    opts.Recorder,
		playback:    opts.Playback,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
		state:       InitialState(),
	}
}

// Subscribe registers l for future snapshots.
func (w *Workflow) Subscribe(l Listener) {
	if l == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// Snapshot returns the current rendered state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return newSnapshot(w.state)
}

// View calls fn with the current snapshot while holding the workflow lock, so
// fn observes the playback sink exactly as the last commit left it. fn must
// not call back into the Workflow.
func (w *Workflow) View(fn func(Snapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(newSnapshot(w.state))
}

// State returns a copy of the raw state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Wait blocks until every stage goroutine started so far has finished.
func (w *Workflow) Wait() {
	w.wg.Wait()
}

// SelectImage replaces the selection and discards any result and audio.
// Responses still in flight for the old selection become stale.
func (w *Workflow) SelectImage(img *diagnosis.ImageSelection) error {
	if img == nil || len(img.Data) == 0 {
		return diagnosis.ErrEmptyImage
	}
	w.apply("", func(s State) (State, bool) { return selectImage(s, img), true })
	w.logger.Debug("image selected", "mime_type", img.MIMEType, "bytes", len(img.Data))
	return nil
}

// ClearImage returns the workflow to Empty from any phase.
func (w *Workflow) ClearImage() {
	w.apply("", func(s State) (State, bool) { return clearImage(s), true })
}

// SetLanguage changes the preference used by the next submission. It is
// rejected while an attempt is in flight and never touches the live result.
func (w *Workflow) SetLanguage(lang diagnosis.Language) bool {
	ok := w.apply("", func(s State) (State, bool) { return setLanguage(s, lang) })
	if !ok {
		w.metrics.ObserveIgnored("set_language")
	}
	return ok
}

// Submit starts classification of the current selection. It returns false
// without any network call when there is nothing to submit or an attempt is
// already in flight.
func (w *Workflow) Submit(ctx context.Context) bool {
	var (
		started bool
		attempt State
	)
	w.mu.Lock()
	if next, ok := beginSubmit(w.state); ok {
		started = true
		attempt = next
		w.commitLocked(next)
		// Counted under the lock so Wait never misses an attempt.
		w.wg.Add(1)
	}
	w.mu.Unlock()

	if !started {
		w.metrics.ObserveIgnored("submit")
		return false
	}

	w.logger.Info("prediction submitted",
		"generation", attempt.Generation,
		"language", string(attempt.SubmittedLanguage),
	)
	go func() {
		defer w.wg.Done()
		w.run(context.WithoutCancel(ctx), attempt.Generation, attempt.Image, attempt.SubmittedLanguage)
	}()
	return true
}

func (w *Workflow) run(ctx context.Context, gen uint64, img *diagnosis.ImageSelection, lang diagnosis.Language) {
	start := time.Now()
	result, err := w.classifier.Classify(ctx, img.Data, img.MIMEType, lang)
	w.metrics.ObserveStage(metrics.StageClassify, err, time.Since(start).Seconds())
	if err != nil {
		w.logger.Error("classification failed", "error", err, "generation", gen)
		w.apply(metrics.StageClassify, func(s State) (State, bool) { return classificationFailed(s, gen) })
		return
	}
	if !w.apply(metrics.StageClassify, func(s State) (State, bool) { return classified(s, gen, result) }) {
		return
	}
	if !w.apply(metrics.StageClassify, func(s State) (State, bool) { return synthesizing(s, gen) }) {
		return
	}

	start = time.Now()
	clip, err := w.synthesizer.SynthesizeSpeech(ctx, result.Disease, result.HealthTip, lang)
	w.metrics.ObserveStage(metrics.StageSpeech, err, time.Since(start).Seconds())
	if err != nil {
		w.logger.Warn("speech synthesis failed; continuing without audio",
			"error", err,
			"generation", gen,
			"disease", result.Disease,
		)
		if !w.apply(metrics.StageSpeech, func(s State) (State, bool) { return speechFailed(s, gen) }) {
			return
		}
		if !w.apply(metrics.StageSpeech, func(s State) (State, bool) { return readyWithoutAudio(s, gen) }) {
			return
		}
	} else {
		bound := *clip
		bound.Disease = result.Disease
		bound.Language = lang
		bound.Generation = gen
		if !w.apply(metrics.StageSpeech, func(s State) (State, bool) { return speechReady(s, gen, &bound) }) {
			return
		}
	}

	if w.recorder != nil {
		w.recorder.Record(ctx, results.NewPredictionRecord(result, lang, w.now()))
	}
}

// apply runs fn against the current state and commits the result when fn
// accepts it. A rejected stage transition is counted as stale.
func (w *Workflow) apply(stage string, fn func(State) (State, bool)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, ok := fn(w.state)
	if !ok {
		if stage != "" {
			w.metrics.ObserveStale(stage)
			w.logger.Debug("dropping stale response", "stage", stage, "generation", w.state.Generation)
		}
		return false
	}
	w.commitLocked(next)
	return true
}

func (w *Workflow) commitLocked(next State) {
	prev := w.state
	w.state = next
	if w.playback != nil && prev.Audio != next.Audio {
		w.playback.Attach(next.Audio)
	}
	snap := newSnapshot(next)
	for _, l := range w.listeners {
		l(snap)
	}
}
