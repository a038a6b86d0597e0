package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/dermassist/internal/diagnosis"
)

// PredictionRecord is the only data written to durable storage for a
// completed classification.
type PredictionRecord struct {
	ID         uuid.UUID          `json:"id"`
	Disease    string             `json:"disease"`
	Confidence float64            `json:"confidence"`
	Language   diagnosis.Language `json:"language"`
	CreatedAt  time.Time          `json:"created_at"`
}

// NewPredictionRecord builds a record stamped with now (UTC).
func NewPredictionRecord(result *diagnosis.ClassificationResult, lang diagnosis.Language, now time.Time) PredictionRecord {
	return PredictionRecord{
		ID:         uuid.New(),
		Disease:    result.Disease,
		Confidence: result.Confidence,
		Language:   lang,
		CreatedAt:  now.UTC(),
	}
}

// RoundedConfidence returns the confidence rounded to two decimal places.
func (r PredictionRecord) RoundedConfidence() float64 {
	return decimal.NewFromFloat(r.Confidence).Round(2).InexactFloat64()
}

// Store appends prediction records. There is no read path.
type Store interface {
	Record(ctx context.Context, rec PredictionRecord) error
}

// Failure causes for PersistenceError.
var (
	ErrStoreUnavailable = errors.New("results: store unavailable")
	ErrWriteRejected    = errors.New("results: write rejected")
)

// PersistenceError wraps a failed write with the backend that produced it.
type PersistenceError struct {
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("results: %s: %v", e.Backend, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func unavailable(backend string, err error) error {
	return &PersistenceError{Backend: backend, Err: fmt.Errorf("%w: %v", ErrStoreUnavailable, err)}
}

func rejected(backend string, err error) error {
	return &PersistenceError{Backend: backend, Err: fmt.Errorf("%w: %v", ErrWriteRejected, err)}
}
