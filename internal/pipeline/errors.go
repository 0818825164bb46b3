package pipeline

import "errors"

var (
	// ErrNotFound means the referenced topic, agent, or message does not
	// exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the requesting user does not own the resource and
	// it is not public.
	ErrForbidden = errors.New("forbidden")

	// ErrNotConfigured means the user has no inference endpoint configured,
	// so no generation can be attempted.
	ErrNotConfigured = errors.New("inference endpoint not configured")

	// ErrGenerationInProgress means another generation currently holds the
	// topic's lock. Concurrent generation into one topic is rejected, not
	// queued.
	ErrGenerationInProgress = errors.New("generation already in progress for this topic")
)
