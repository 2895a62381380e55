package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBusy               = errors.New("a generation is already running")
	ErrNotRunning         = errors.New("no generation is running")
	ErrPromptRequired     = errors.New("prompt is required")
	ErrCredentialRequired = errors.New("api key is required")
)

// ErrorKind classifies where a generation failed.
type ErrorKind string

const (
	KindSubmissionFailed ErrorKind = "submission_failed"
	KindPollFailed       ErrorKind = "poll_failed"
	KindArtifactMissing  ErrorKind = "artifact_missing"
	KindDownloadFailed   ErrorKind = "download_failed"
	KindUnknown          ErrorKind = "unknown"
)

// GenerationError is the single error type surfaced by the workflow engine.
// StatusCode, Status and Body are only populated for KindDownloadFailed.
type GenerationError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	b.WriteString("An error occurred: ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is matches another *GenerationError by kind, so callers can write
// errors.Is(err, &domain.GenerationError{Kind: domain.KindPollFailed}).
func (e *GenerationError) Is(target error) bool {
	t, ok := target.(*GenerationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewGenerationError builds a GenerationError of the given kind.
func NewGenerationError(kind ErrorKind, err error, format string, args ...any) *GenerationError {
	return &GenerationError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf extracts the ErrorKind carried by err. Errors that are not
// GenerationErrors report KindUnknown.
func KindOf(err error) ErrorKind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}
