// Package perf provides lightweight timing helpers for the job pipeline.
package perf

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timer tracks the duration of a single operation.
type Timer struct {
	name      string
	startTime time.Time
	logger    logrus.FieldLogger
}

// Start begins timing an operation.
func Start(name string, logger logrus.FieldLogger) *Timer {
	return &Timer{name: name, startTime: time.Now(), logger: logger}
}

// Stop ends timing and logs the duration.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"operation":   t.name,
			"duration_ms": duration.Milliseconds(),
		}).Info("operation completed")
	}
	return duration
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	duration := time.Since(t.startTime)
	if t.logger != nil {
		fields := logrus.Fields{
			"operation":   t.name,
			"duration_ms": duration.Milliseconds(),
		}
		if duration > threshold {
			t.logger.WithFields(fields).Warn("operation exceeded threshold")
		} else {
			t.logger.WithFields(fields).Debug("operation completed")
		}
	}
	return duration
}

// JobTimings accumulates per-phase durations for one queue job.
type JobTimings struct {
	mu sync.Mutex

	Ingest      time.Duration
	Download    time.Duration
	PostProcess time.Duration
	Total       time.Duration
}

// Record adds a phase duration under the given setter.
func (j *JobTimings) Record(set func(*JobTimings)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	set(j)
}

// Fields renders the timings as logrus fields for the job summary line.
func (j *JobTimings) Fields() logrus.Fields {
	j.mu.Lock()
	defer j.mu.Unlock()
	return logrus.Fields{
		"ingest_ms":      j.Ingest.Milliseconds(),
		"download_ms":    j.Download.Milliseconds(),
		"postprocess_ms": j.PostProcess.Milliseconds(),
		"total_ms":       j.Total.Milliseconds(),
	}
}
