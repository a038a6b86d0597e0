package diagnosis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Language is the advisory/speech language preference.
type Language string

const (
	LanguageEnglish Language = "English"
	LanguageHausa   Language = "Hausa"
	LanguageYoruba  Language = "Yoruba"
	LanguageIgbo    Language = "Igbo"
)

// DefaultLanguage is active until the user picks another one.
const DefaultLanguage = LanguageEnglish

// Languages lists the supported preferences in display order.
var Languages = []Language{LanguageEnglish, LanguageHausa, LanguageYoruba, LanguageIgbo}

var speechCodes = map[Language]string{
	LanguageEnglish: "en",
	LanguageHausa:   "ha",
	LanguageYoruba:  "yo",
	LanguageIgbo:    "ig",
}

// ErrUnknownLanguage is returned by ParseLanguage for values outside the enumerated set.
var ErrUnknownLanguage = errors.New("diagnosis: unknown language")

// ParseLanguage resolves a language name case-insensitively.
func ParseLanguage(raw string) (Language, error) {
	trimmed := strings.TrimSpace(raw)
	for _, lang := range Languages {
		if strings.EqualFold(trimmed, string(lang)) {
			return lang, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, raw)
}

// Valid reports whether l is one of the enumerated languages.
func (l Language) Valid() bool {
	_, ok := speechCodes[l]
	return ok
}

// SpeechCode returns the locale code used for speech synthesis.
func (l Language) SpeechCode() string {
	if code, ok := speechCodes[l]; ok {
		return code
	}
	return speechCodes[DefaultLanguage]
}

// ImageSelection is a user-picked photograph. It is never sent anywhere but classify.
type ImageSelection struct {
	Data     []byte
	MIMEType string
	// Preview is a data: URL the rendering layer can show directly.
	Preview string
}

// ErrEmptyImage is returned when a selection carries no bytes.
var ErrEmptyImage = errors.New("diagnosis: image payload is empty")

// NewImageSelection builds a selection, sniffing the MIME type when none is given.
func NewImageSelection(data []byte, mimeType string) (*ImageSelection, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ImageSelection{
		Data:     buf,
		MIMEType: mimeType,
		Preview:  "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(buf),
	}, nil
}

// DiseaseMetadata is the reference information attached to a predicted condition.
type DiseaseMetadata struct {
	Description  string   `json:"description"`
	Symptoms     []string `json:"symptoms"`
	Causes       []string `json:"causes"`
	Treatments   []string `json:"treatments"`
	IsContagious string   `json:"is_contagious"`
}

// ClassificationResult is one completed classification.
type ClassificationResult struct {
	Disease    string          `json:"disease"`
	Confidence float64         `json:"confidence"`
	Metadata   DiseaseMetadata `json:"metadata"`
	HealthTip  string          `json:"health_tip"`
	// Language is the advisory language echoed back by the backend, if any.
	Language Language `json:"language,omitempty"`
}

// AudioClip is synthesized speech for exactly one result/language pair.
type AudioClip struct {
	Data       []byte
	MIMEType   string
	Disease    string
	Language   Language
	Generation uint64
}

// Size returns the clip length in bytes.
func (c *AudioClip) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Data)
}

// HealthStatus is the backend's health probe payload.
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Healthy reports whether the backend is serving predictions.
func (h *HealthStatus) Healthy() bool {
	return h != nil && strings.EqualFold(h.Status, "healthy") && h.ModelLoaded
}
