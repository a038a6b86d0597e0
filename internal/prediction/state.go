package prediction

import "github.com/wolfman30/dermassist/internal/diagnosis"

// Phase is the workflow's position in the classify → speech → ready sequence.
type Phase string

const (
	PhaseEmpty                Phase = "empty"
	PhaseSelected             Phase = "selected"
	PhaseSubmitting           Phase = "submitting"
	PhaseClassified           Phase = "classified"
	PhaseSynthesizingSpeech   Phase = "synthesizing_speech"
	PhaseReady                Phase = "ready"
	PhaseClassificationFailed Phase = "classification_failed"
	PhaseSpeechFailed         Phase = "speech_failed"
)

// FailureNotice is the only classification failure text shown to users.
const FailureNotice = "Failed to analyze image. Please try again."

// Disclaimer accompanies every visible result.
const Disclaimer = "This is an AI-based prediction and should not replace professional medical advice. Please consult a dermatologist for accurate diagnosis and treatment."

// State is the complete prediction workflow state. Transitions never mutate a
// State in place; each returns the next value.
type State struct {
	Phase    Phase
	Image    *diagnosis.ImageSelection
	Language diagnosis.Language

	// SubmittedLanguage is the preference captured when the live attempt
	// started. Speech and the persisted record use it, not Language.
	SubmittedLanguage diagnosis.Language
	Result            *diagnosis.ClassificationResult
	Audio             *diagnosis.AudioClip

	// Generation identifies the current selection/attempt. Responses tagged
	// with any other generation are stale.
	Generation   uint64
	InFlight     bool
	SpeechFailed bool
	Notice       string
}

// InitialState is the Empty state with the default language.
func InitialState() State {
	return State{Phase: PhaseEmpty, Language: diagnosis.DefaultLanguage}
}

func selectImage(s State, img *diagnosis.ImageSelection) State {
	return State{
		Phase:      PhaseSelected,
		Image:      img,
		Language:   s.Language,
		Generation: s.Generation + 1,
	}
}

func clearImage(s State) State {
	return State{
		Phase:      PhaseEmpty,
		Language:   s.Language,
		Generation: s.Generation + 1,
	}
}

// canSubmit reports whether a submit intent starts a new attempt.
func canSubmit(s State) bool {
	if s.Image == nil || s.InFlight {
		return false
	}
	switch s.Phase {
	case PhaseSelected, PhaseClassificationFailed, PhaseReady:
		return true
	}
	return false
}

func beginSubmit(s State) (State, bool) {
	if !canSubmit(s) {
		return s, false
	}
	return State{
		Phase:             PhaseSubmitting,
		Image:             s.Image,
		Language:          s.Language,
		SubmittedLanguage: s.Language,
		Generation:        s.Generation + 1,
		InFlight:          true,
	}, true
}

func setLanguage(s State, lang diagnosis.Language) (State, bool) {
	if !lang.Valid() || s.InFlight {
		return s, false
	}
	s.Language = lang
	return s, true
}

func classified(s State, gen uint64, result *diagnosis.ClassificationResult) (State, bool) {
	if gen != s.Generation || s.Phase != PhaseSubmitting {
		return s, false
	}
	s.Phase = PhaseClassified
	s.Result = result
	return s, true
}

func classificationFailed(s State, gen uint64) (State, bool) {
	if gen != s.Generation || s.Phase != PhaseSubmitting {
		return s, false
	}
	s.Phase = PhaseClassificationFailed
	s.Result = nil
	s.Audio = nil
	s.InFlight = false
	s.Notice = FailureNotice
	return s, true
}

func synthesizing(s State, gen uint64) (State, bool) {
	if gen != s.Generation || s.Phase != PhaseClassified {
		return s, false
	}
	s.Phase = PhaseSynthesizingSpeech
	return s, true
}

func speechReady(s State, gen uint64, clip *diagnosis.AudioClip) (State, bool) {
	if gen != s.Generation || s.Phase != PhaseSynthesizingSpeech {
		return s, false
	}
	s.Phase = PhaseReady
	s.Audio = clip
	s.InFlight = false
	return s, true
}

func speechFailed(s State, gen uint64) (State, bool) {
	if gen != s.Generation || s.Phase != PhaseSynthesizingSpeech {
		return s, false
	}
	s.Phase = PhaseSpeechFailed
	s.Audio = nil
	s.SpeechFailed = true
	return s, true
}

// readyWithoutAudio completes an attempt whose speech stage failed.
func readyWithoutAudio(s State, gen uint64) (State, bool) {
	if gen != s.Generation || s.Phase != PhaseSpeechFailed {
		return s, false
	}
	s.Phase = PhaseReady
	s.InFlight = false
	return s, true
}
