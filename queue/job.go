package queue

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

// JobState is the lifecycle state of one queued archive.
type JobState string

const (
	StateQueued            JobState = "queued"
	StateIngesting         JobState = "ingesting"
	StateAwaitingSelection JobState = "awaiting_selection"
	StateDownloading       JobState = "downloading"
	StatePostProcessing    JobState = "post_processing"
	StateCompleted         JobState = "completed"
	StateCancelled         JobState = "cancelled"
	StateFailed            JobState = "failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Job is one archive moving through the pipeline. It is owned
// exclusively by the coordinator; tasks receive its fields by value
// and report back through the coordinator, never by mutating the Job.
type Job struct {
	ID         string
	SourcePath string
	EnqueuedAt time.Time

	State JobState

	// WrapperMode is captured once when the job starts so a settings
	// change mid-job cannot produce half-finalized installs.
	WrapperMode bool

	Game           *accela.GameData
	SelectedDepots []string

	// FailedDepots and SkippedDepots summarize the download phase.
	FailedDepots  []string
	SkippedDepots []string

	// Err is set when State is Failed.
	Err error

	cancelRequested bool
}

// newJobID mints a sortable unique id; jobs enqueued later sort later.
func newJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// EventKind discriminates coordinator events.
type EventKind string

const (
	EventJobState EventKind = "job_state"
	EventProgress EventKind = "progress"
	EventLog      EventKind = "log"
	EventSpeed    EventKind = "speed"
)

// Event is one message on the coordinator's event stream, consumed by
// the TUI and by tests.
type Event struct {
	Kind    EventKind
	JobID   string
	State   JobState
	Percent float64
	Speed   float64
	Message string
}
