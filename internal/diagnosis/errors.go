package diagnosis

import (
	"errors"
	"fmt"
)

// Failure causes shared by every remote operation. Match with errors.Is.
var (
	ErrTransport = errors.New("diagnosis: transport failure")
	ErrBadStatus = errors.New("diagnosis: unexpected status")
	ErrMalformed = errors.New("diagnosis: malformed response")
)

// remoteError carries the detail common to all three operation errors.
type remoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *remoteError) format(kind string) string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", kind, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", kind, e.Op, e.Err)
}

// ClassificationError is returned by Classify.
type ClassificationError struct{ remoteError }

func (e *ClassificationError) Error() string { return e.format("classification failed") }
func (e *ClassificationError) Unwrap() error { return e.Err }

// SynthesisError is returned by SynthesizeSpeech.
type SynthesisError struct{ remoteError }

func (e *SynthesisError) Error() string { return e.format("speech synthesis failed") }
func (e *SynthesisError) Unwrap() error { return e.Err }

// ChatError is returned by SendChatTurn.
type ChatError struct{ remoteError }

func (e *ChatError) Error() string { return e.format("chat turn failed") }
func (e *ChatError) Unwrap() error { return e.Err }

func newClassificationError(status int, err error) error {
	return &ClassificationError{remoteError{Op: "classify", StatusCode: status, Err: err}}
}

func newSynthesisError(status int, err error) error {
	return &SynthesisError{remoteError{Op: "synthesize_speech", StatusCode: status, Err: err}}
}

func newChatError(status int, err error) error {
	return &ChatError{remoteError{Op: "chat_turn", StatusCode: status, Err: err}}
}

// malformed wraps a shape problem so it matches ErrMalformed.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
