package accela

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across task packages. Higher layers (the queue
// coordinator in particular) use these to decide whether a failure is
// fatal to the job or merely to one step.
var (
	// ErrNoManifests indicates a download was requested for game data
	// that carries no manifest table at all; the archive was incomplete.
	ErrNoManifests = errors.New("no manifest files present in game data")

	// ErrDownloaderMissing indicates the external depot downloader binary
	// could not be found or executed. Fatal to the job.
	ErrDownloaderMissing = errors.New("depot downloader binary not found")

	// ErrPauseUnsupported indicates the platform offers no process
	// suspend/resume capability. Surfaced to the caller, never silently
	// swallowed.
	ErrPauseUnsupported = errors.New("process suspend/resume not supported on this platform")

	// ErrCacheDegraded indicates the metadata cache is running in
	// permanent no-op mode because its compression codec failed to
	// initialize at startup.
	ErrCacheDegraded = errors.New("metadata cache degraded: compression unavailable")
)

// ParseError marks a distribution archive as malformed. It is fatal to
// the job it belongs to but never to the queue.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("archive %s: %s", e.Path, e.Reason)
}

// NewParseError builds a ParseError for the given archive.
func NewParseError(path, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// TaskError is the structured form in which a background worker failure
// (including a recovered panic) crosses the goroutine boundary back to
// the coordinator. Workers never re-panic into the event loop.
type TaskError struct {
	Op      string
	Message string
	Stack   string
	Err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *TaskError) Unwrap() error { return e.Err }
