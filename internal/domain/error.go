package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Job lifecycle
	ErrJobTerminal        = errors.New("job already finished")
	ErrInvalidTransition  = errors.New("invalid phase transition")
	ErrJobCanceled        = errors.New("job canceled")
	ErrJobAlreadyRunning  = errors.New("job already running")
	ErrUnsupportedLang    = errors.New("unsupported language")
	ErrEmptyTranscript    = errors.New("transcript is empty")
	ErrUnknownTaskType    = errors.New("unknown task type")
	ErrNoHandler          = errors.New("no handler registered for task type")
	ErrHardTimeLimit      = errors.New("task exceeded hard time limit")
	ErrInvalidExecContext = errors.New("invalid db executor")
	ErrReadDatabaseRow    = errors.New("could not read database row")

	// Admission
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInsufficientMemory = errors.New("insufficient memory headroom for file")
	ErrMemoryCritical     = errors.New("memory usage above critical threshold")
	ErrRateLimited        = errors.New("rate limited")

	// Transient infrastructure
	ErrMemoryPressure = errors.New("memory pressure")
	ErrTimeout        = errors.New("timeout")
	ErrConnection     = errors.New("connection failure")
	ErrOverloaded     = errors.New("server overload")
	ErrGeneration     = errors.New("generation service failure")
	ErrTranscription  = errors.New("transcription engine failure")
)

// Kind is the error category a failure is converted to before it crosses a component boundary.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAdmission  Kind = "admission"
	KindTransient  Kind = "transient"
	KindPartial    Kind = "partial"
	KindFatal      Kind = "fatal"
)

// StageError tags a failure with the stage that produced it. Message is the
// human-readable text that may be shown on the job; Err stays in the logs.
type StageError struct {
	Stage   string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return e.Stage + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Stage + ": " + e.Message
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(stage, message string, err error) *StageError {
	return &StageError{Stage: stage, Message: message, Err: err}
}

// UserMessage returns the text that is safe to put on a job.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Message
	}
	switch Classify(err) {
	case KindValidation, KindAdmission:
		return err.Error()
	case KindTransient:
		return "temporary failure while processing, please retry later"
	}
	if errors.Is(err, ErrUnknownTaskType) || errors.Is(err, ErrNoHandler) || errors.Is(err, ErrEmptyTranscript) {
		return err.Error()
	}
	return "processing failed"
}

var retryableKeywords = []string{"memory", "timeout", "connection", "temporary", "overload"}

// IsRetryable reports whether err belongs to the transient category.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrJobCanceled) || errors.Is(err, context.Canceled) {
		return false
	}
	for _, target := range []error{ErrMemoryPressure, ErrTimeout, ErrConnection, ErrOverloaded, ErrGeneration, ErrTranscription, context.DeadlineExceeded} {
		if errors.Is(err, target) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range retryableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// Classify maps an error onto the failure taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrUnsupportedLang):
		return KindValidation
	case errors.Is(err, ErrFileTooLarge), errors.Is(err, ErrInsufficientMemory),
		errors.Is(err, ErrMemoryCritical), errors.Is(err, ErrRateLimited):
		return KindAdmission
	case IsRetryable(err):
		return KindTransient
	default:
		return KindFatal
	}
}

// ContextError maps a done context to the error workers understand:
// a deadline is a transient timeout, anything else a cancellation.
func ContextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %w", ErrJobCanceled, ctx.Err())
}
