package prediction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/dermassist/internal/diagnosis"
)

func TestCanSubmit(t *testing.T) {
	img := &diagnosis.ImageSelection{Data: []byte{1}}
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"empty", State{Phase: PhaseEmpty}, false},
		{"selected", State{Phase: PhaseSelected, Image: img}, true},
		{"selected without image", State{Phase: PhaseSelected}, false},
		{"submitting", State{Phase: PhaseSubmitting, Image: img, InFlight: true}, false},
		{"classified", State{Phase: PhaseClassified, Image: img, InFlight: true}, false},
		{"synthesizing", State{Phase: PhaseSynthesizingSpeech, Image: img, InFlight: true}, false},
		{"speech failed", State{Phase: PhaseSpeechFailed, Image: img, InFlight: true}, false},
		{"classification failed", State{Phase: PhaseClassificationFailed, Image: img}, true},
		{"ready", State{Phase: PhaseReady, Image: img}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canSubmit(tt.state))
		})
	}
}

func TestTransitionsRejectOtherGenerations(t *testing.T) {
	s := State{Phase: PhaseSubmitting, Generation: 4, InFlight: true}
	result := &diagnosis.ClassificationResult{Disease: "Acne"}

	_, ok := classified(s, 3, result)
	assert.False(t, ok)
	_, ok = classificationFailed(s, 5)
	assert.False(t, ok)

	next, ok := classified(s, 4, result)
	assert.True(t, ok)
	assert.Equal(t, PhaseClassified, next.Phase)
	assert.Equal(t, PhaseSubmitting, s.Phase, "input state is not mutated")

	_, ok = speechReady(next, 4, &diagnosis.AudioClip{})
	assert.False(t, ok, "speech cannot land before synthesis starts")
}

func TestSelectAndClearBumpGenerationAndKeepLanguage(t *testing.T) {
	s := State{
		Phase:      PhaseReady,
		Language:   diagnosis.LanguageHausa,
		Result:     &diagnosis.ClassificationResult{Disease: "Ringworm"},
		Audio:      &diagnosis.AudioClip{},
		Generation: 7,
		Notice:     FailureNotice,
	}
	img := &diagnosis.ImageSelection{Data: []byte{1}}

	selected := selectImage(s, img)
	assert.Equal(t, State{Phase: PhaseSelected, Image: img, Language: diagnosis.LanguageHausa, Generation: 8}, selected)

	cleared := clearImage(selected)
	assert.Equal(t, State{Phase: PhaseEmpty, Language: diagnosis.LanguageHausa, Generation: 9}, cleared)
}

func TestSpeechFailurePathKeepsResult(t *testing.T) {
	result := &diagnosis.ClassificationResult{Disease: "Psoriasis"}
	s := State{Phase: PhaseSynthesizingSpeech, Result: result, Generation: 2, InFlight: true}

	failed, ok := speechFailed(s, 2)
	assert.True(t, ok)
	assert.Equal(t, PhaseSpeechFailed, failed.Phase)
	assert.True(t, failed.InFlight)

	ready, ok := readyWithoutAudio(failed, 2)
	assert.True(t, ok)
	assert.Equal(t, PhaseReady, ready.Phase)
	assert.Same(t, result, ready.Result)
	assert.Nil(t, ready.Audio)
	assert.False(t, ready.InFlight)
}
