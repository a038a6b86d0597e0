package prediction

import (
	"slices"

	"github.com/wolfman30/dermassist/internal/diagnosis"
)

// ImageView is the renderable part of a selection.
type ImageView struct {
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
	Preview  string `json:"preview"`
}

// Snapshot is what the rendering layer sees.
type Snapshot struct {
	Phase          Phase                           `json:"phase"`
	Generation     uint64                          `json:"generation"`
	InFlight       bool                            `json:"in_flight"`
	Language       diagnosis.Language              `json:"language"`
	Image          *ImageView                      `json:"image,omitempty"`
	Result         *diagnosis.ClassificationResult `json:"result,omitempty"`
	ResultLanguage diagnosis.Language              `json:"result_language,omitempty"`
	AudioAvailable bool                            `json:"audio_available"`
	SpeechFailed   bool                            `json:"speech_failed"`
	Notice         string                          `json:"notice,omitempty"`
	Disclaimer     string                          `json:"disclaimer,omitempty"`
}

func newSnapshot(s State) Snapshot {
	snap := Snapshot{
		Phase:          s.Phase,
		Generation:     s.Generation,
		InFlight:       s.InFlight,
		Language:       s.Language,
		AudioAvailable: s.Audio != nil,
		SpeechFailed:   s.SpeechFailed,
		Notice:         s.Notice,
	}
	if s.Image != nil {
		snap.Image = &ImageView{
			MIMEType: s.Image.MIMEType,
			Size:     len(s.Image.Data),
			Preview:  s.Image.Preview,
		}
	}
	if s.Result != nil {
		result := *s.Result
		result.Metadata.Symptoms = slices.Clone(s.Result.Metadata.Symptoms)
		result.Metadata.Causes = slices.Clone(s.Result.Metadata.Causes)
		result.Metadata.Treatments = slices.Clone(s.Result.Metadata.Treatments)
		snap.Result = &result
		snap.ResultLanguage = s.SubmittedLanguage
		snap.Disclaimer = Disclaimer
	}
	return snap
}
