package stage

import "errors"

// Sentinel errors, teacher style (pkg/orchestrator/errors.go): plain
// errors.New values, wrapped with fmt.Errorf("%w: ...") at call sites.
var (
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	ErrTTSFailed = errors.New("text-to-speech synthesis failed")

	ErrNilProvider = errors.New("required provider is nil")

	ErrContextCancelled = errors.New("operation cancelled by context")

	// ErrSessionAlreadyRegistered is an internal invariant violation
	// (spec.md §7): fatal for that session.
	ErrSessionAlreadyRegistered = errors.New("session already registered")

	ErrUnknownSpeaker = errors.New("unknown speaker id")

	ErrBargeInDisabled = errors.New("barge-in is disabled for this session")

	ErrInvalidCommand = errors.New("router returned no command for this text")

	ErrSessionNotFound = errors.New("session not found")
)
