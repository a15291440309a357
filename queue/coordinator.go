// Package queue implements the job queue coordinator: the top-level
// state machine that drives each enqueued archive through ingest,
// depot selection, download, post-processing and finalization, one job
// at a time. The coordinator owns a named set of background worker
// handles and only starts the next job once every worker from the
// previous one has fully quiesced, because they share one staging
// directory.
package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	accela "github.com/FaultyPacketOverflowVector/Accela"
	"github.com/FaultyPacketOverflowVector/Accela/archive"
	"github.com/FaultyPacketOverflowVector/Accela/download"
	"github.com/FaultyPacketOverflowVector/Accela/metrics"
	"github.com/FaultyPacketOverflowVector/Accela/monitor"
	"github.com/FaultyPacketOverflowVector/Accela/perf"
	"github.com/FaultyPacketOverflowVector/Accela/postprocess"
	"github.com/FaultyPacketOverflowVector/Accela/runner"
	"github.com/FaultyPacketOverflowVector/Accela/steamfiles"
)

// Worker handle names. The quiescence gate waits on all of them.
const (
	opIngest         = "ingest"
	opDownload       = "download"
	opDownloadEvents = "download-events"
	opSpeedMonitor   = "speed-monitor"
	opPostProcess    = "post-process"
)

// Config holds coordinator settings.
type Config struct {
	// DestinationRoot is the Steam library folder installs go into.
	DestinationRoot string
	// StagingDir is the shared temp directory for extracted manifests
	// and key files. Single-writer: the quiescence gate protects it.
	StagingDir string
	// WrapperMode enables compatibility-wrapper finalization. Read once
	// per job at start time.
	WrapperMode bool
	// AppListDir is the wrapper's applist directory.
	AppListDir string
	// AutoSelectDepots skips the selection pause and downloads every
	// surviving depot.
	AutoSelectDepots bool
	// JournalPath is the bbolt file pending jobs persist in. Empty
	// disables journaling.
	JournalPath string
}

// Dependencies are the collaborators the coordinator drives.
type Dependencies struct {
	Fs             afero.Fs
	Ingestor       *archive.Ingestor
	DownloadConfig download.Config
	PostTasks      []postprocess.Task
	SpeedMonitor   *monitor.SpeedMonitor
	Logger         *logrus.Logger
}

// Coordinator owns the job queue. All public methods are safe for
// concurrent use.
type Coordinator struct {
	config  Config
	deps    Dependencies
	logger  *logrus.Logger
	journal *journal
	events  chan Event

	ctx context.Context

	mu           sync.Mutex
	pending      *immutable.List[*Job]
	active       *Job
	history      []*Job
	handles      map[string]*runner.Handle
	downloadTask *download.Task
	speedCancel  context.CancelFunc
	timings      *perf.JobTimings
	outcome      download.DoneEvent
}

// New builds a Coordinator and re-queues any jobs journaled by a
// previous process.
func New(config Config, deps Dependencies) (*Coordinator, error) {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	j, err := openJournal(config.JournalPath)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:  config,
		deps:    deps,
		logger:  deps.Logger,
		journal: j,
		events:  make(chan Event, 1024),
		pending: immutable.NewList[*Job](),
		handles: map[string]*runner.Handle{},
	}

	entries, err := j.load()
	if err != nil {
		j.close()
		return nil, err
	}
	for _, entry := range entries {
		job := &Job{
			ID:         entry.ID,
			SourcePath: entry.SourcePath,
			EnqueuedAt: entry.EnqueuedAt,
			State:      StateQueued,
		}
		c.pending = c.pending.Append(job)
	}
	if len(entries) > 0 {
		c.logger.WithField("count", len(entries)).Info("Recovered journaled jobs")
	}
	return c, nil
}

// Events returns the coordinator's event stream.
func (c *Coordinator) Events() <-chan Event { return c.events }

// Start begins processing. ctx cancellation stops all workers; jobs
// still pending remain journaled for the next run.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
	c.maybeStartLocked()
}

// Close releases the journal. Call after all workers have quiesced.
func (c *Coordinator) Close() error {
	return c.journal.close()
}

// Enqueue appends an archive to the queue and starts it immediately if
// the queue is idle.
func (c *Coordinator) Enqueue(sourcePath string) *Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := &Job{
		ID:         newJobID(),
		SourcePath: sourcePath,
		EnqueuedAt: time.Now(),
		State:      StateQueued,
	}
	c.pending = c.pending.Append(job)
	if err := c.journal.record(job); err != nil {
		c.logger.WithError(err).Warn("Failed to journal job")
	}
	c.emit(Event{Kind: EventJobState, JobID: job.ID, State: StateQueued, Message: sourcePath})
	c.logger.WithFields(logrus.Fields{
		"job":    job.ID,
		"source": sourcePath,
	}).Info("Enqueued archive")

	c.maybeStartLocked()
	return job
}

// Jobs returns a snapshot: the active job first (if any), then pending
// jobs in order, then finished jobs.
func (c *Coordinator) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	jobs := make([]Job, 0, 1+c.pending.Len()+len(c.history))
	if c.active != nil {
		jobs = append(jobs, *c.active)
	}
	for it := c.pending.Iterator(); !it.Done(); {
		_, job := it.Next()
		jobs = append(jobs, *job)
	}
	for _, job := range c.history {
		jobs = append(jobs, *job)
	}
	return jobs
}

// MoveUp moves a not-yet-started job one slot toward the head.
func (c *Coordinator) MoveUp(jobID string) error {
	return c.reorder(jobID, -1)
}

// MoveDown moves a not-yet-started job one slot toward the tail.
func (c *Coordinator) MoveDown(jobID string) error {
	return c.reorder(jobID, +1)
}

func (c *Coordinator) reorder(jobID string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jobs := c.pendingSliceLocked()
	for i, job := range jobs {
		if job.ID != jobID {
			continue
		}
		target := i + delta
		if target < 0 || target >= len(jobs) {
			return nil
		}
		jobs[i], jobs[target] = jobs[target], jobs[i]
		c.setPendingLocked(jobs)
		return nil
	}
	return fmt.Errorf("job %s is not pending (started jobs cannot be reordered)", jobID)
}

// Remove drops a not-yet-started job from the queue.
func (c *Coordinator) Remove(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jobs := c.pendingSliceLocked()
	for i, job := range jobs {
		if job.ID != jobID {
			continue
		}
		c.setPendingLocked(append(jobs[:i], jobs[i+1:]...))
		if err := c.journal.remove(jobID); err != nil {
			c.logger.WithError(err).Warn("Failed to remove job from journal")
		}
		job.State = StateCancelled
		c.history = append(c.history, job)
		c.emit(Event{Kind: EventJobState, JobID: jobID, State: StateCancelled})
		return nil
	}
	return fmt.Errorf("job %s is not pending (started jobs must be cancelled)", jobID)
}

// Select provides the user's depot selection for a job awaiting it and
// resumes the pipeline.
func (c *Coordinator) Select(jobID string, depotIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.ID != jobID {
		return fmt.Errorf("job %s is not active", jobID)
	}
	if c.active.State != StateAwaitingSelection {
		return fmt.Errorf("job %s is not awaiting selection (state %s)", jobID, c.active.State)
	}
	c.active.SelectedDepots = append([]string(nil), depotIDs...)
	c.startDownloadLocked(c.active)
	return nil
}

// Cancel aborts a job. A pending job is simply removed; the active job
// gets a hard cancel: its subprocess tree is killed, post-processing
// is stopped, and once the workers report back the partially written
// install is rolled back.
func (c *Coordinator) Cancel(jobID string) error {
	c.mu.Lock()
	if c.active == nil || c.active.ID != jobID {
		c.mu.Unlock()
		return c.Remove(jobID)
	}

	c.active.cancelRequested = true
	if c.active.State == StateAwaitingSelection {
		// No worker is outstanding while waiting for selection; tear
		// down synchronously.
		job := c.active
		c.rollbackLocked(job)
		c.finalizeLocked(job, StateCancelled, nil)
		c.mu.Unlock()
		return nil
	}
	task := c.downloadTask
	posts := c.deps.PostTasks
	c.mu.Unlock()

	c.logger.WithField("job", jobID).Info("Cancelling active job")
	if task != nil {
		task.Kill()
	}
	for _, post := range posts {
		post.Stop()
	}
	return nil
}

// TogglePause suspends or resumes the active download's subprocess
// tree.
func (c *Coordinator) TogglePause(paused bool) error {
	c.mu.Lock()
	task := c.downloadTask
	c.mu.Unlock()
	if task == nil {
		return fmt.Errorf("no active download")
	}
	return task.TogglePause(paused)
}

// maybeStartLocked starts the head job iff nothing is active, every
// worker handle from the previous job has finished, and the queue is
// non-empty. Starting early would let two jobs race on the staging
// directory.
func (c *Coordinator) maybeStartLocked() {
	if c.ctx == nil || c.active != nil || c.pending.Len() == 0 {
		return
	}
	for name, handle := range c.handles {
		if !handle.Finished() {
			// Re-arm the gate when the straggler closes; handles like
			// the speed monitor quiesce asynchronously, after the
			// callback that ran this check.
			c.logger.WithField("operation", name).Debug("Waiting for worker to quiesce")
			go func(h *runner.Handle) {
				<-h.Done()
				c.mu.Lock()
				c.maybeStartLocked()
				c.mu.Unlock()
			}(handle)
			return
		}
	}

	job := c.pending.Get(0)
	c.pending = c.pending.Slice(1, c.pending.Len())
	c.active = job
	c.timings = &perf.JobTimings{}
	c.outcome = download.DoneEvent{}
	job.WrapperMode = c.config.WrapperMode

	c.setStateLocked(job, StateIngesting)
	c.logger.WithFields(logrus.Fields{
		"job":     job.ID,
		"source":  job.SourcePath,
		"wrapper": job.WrapperMode,
	}).Info("Starting job")

	started := time.Now()
	var game *accela.GameData
	c.handles[opIngest] = runner.Go(c.logger, opIngest, func() error {
		g, err := c.deps.Ingestor.Run(c.ctx, job.SourcePath)
		if err != nil {
			return err
		}
		game = g
		return nil
	}, func(taskErr *accela.TaskError) {
		c.timings.Record(func(t *perf.JobTimings) { t.Ingest = time.Since(started) })
		c.onIngestDone(job, game, taskErr)
	})
}

func (c *Coordinator) onIngestDone(job *Job, game *accela.GameData, taskErr *accela.TaskError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if job.cancelRequested {
		c.rollbackLocked(job)
		c.finalizeLocked(job, StateCancelled, nil)
		return
	}
	if taskErr != nil {
		c.finalizeLocked(job, StateFailed, taskErr)
		return
	}

	job.Game = game
	if c.config.AutoSelectDepots {
		job.SelectedDepots = sortedDepotIDs(game.Depots)
		if len(job.SelectedDepots) == 0 {
			c.logger.WithField("job", job.ID).Warn("Archive yielded no downloadable depots")
			c.finalizeLocked(job, StateCompleted, nil)
			return
		}
		c.startDownloadLocked(job)
		return
	}
	c.setStateLocked(job, StateAwaitingSelection)
}

// startDownloadLocked moves the job into the download phase: one
// worker runs the download task, one pumps its events into the
// coordinator stream, and the speed monitor samples throughput for the
// duration.
func (c *Coordinator) startDownloadLocked(job *Job) {
	c.setStateLocked(job, StateDownloading)

	task := download.NewTask(c.deps.DownloadConfig, c.logger)
	c.downloadTask = task

	if c.deps.SpeedMonitor != nil {
		speedCtx, cancel := context.WithCancel(c.ctx)
		c.speedCancel = cancel
		samples := c.deps.SpeedMonitor.Run(speedCtx)
		c.handles[opSpeedMonitor] = runner.Go(c.logger, opSpeedMonitor, func() error {
			for sample := range samples {
				c.emit(Event{Kind: EventSpeed, JobID: job.ID, Speed: sample.BytesPerSecond})
			}
			return nil
		}, nil)
	}

	pump := runner.Go(c.logger, opDownloadEvents, func() error {
		for ev := range task.Events() {
			switch e := ev.(type) {
			case download.ProgressEvent:
				c.emit(Event{Kind: EventProgress, JobID: job.ID, Percent: e.Percent})
			case download.LogEvent:
				c.emit(Event{Kind: EventLog, JobID: job.ID, Message: e.Line})
			case download.DoneEvent:
				c.mu.Lock()
				c.outcome = e
				c.mu.Unlock()
			}
		}
		return nil
	}, nil)
	c.handles[opDownloadEvents] = pump

	started := time.Now()
	c.handles[opDownload] = runner.Go(c.logger, opDownload, func() error {
		return task.Run(c.ctx, job.Game, job.SelectedDepots, c.config.DestinationRoot)
	}, func(taskErr *accela.TaskError) {
		// The pump drains the closed event channel before the outcome
		// is read; Done() ordering makes the write visible here.
		<-pump.Done()
		c.timings.Record(func(t *perf.JobTimings) { t.Download = time.Since(started) })
		c.onDownloadDone(job, taskErr)
	})
}

func (c *Coordinator) onDownloadDone(job *Job, taskErr *accela.TaskError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.downloadTask = nil
	if c.speedCancel != nil {
		c.speedCancel()
		c.speedCancel = nil
	}
	job.FailedDepots = c.outcome.Failed
	job.SkippedDepots = c.outcome.Skipped

	if job.cancelRequested {
		if taskErr != nil {
			// Suppressed from user-visible reporting; the job is
			// already being torn down.
			c.logger.WithError(taskErr).WithField("job", job.ID).Debug("Error after cancellation suppressed")
		}
		c.rollbackLocked(job)
		c.finalizeLocked(job, StateCancelled, nil)
		return
	}
	if taskErr != nil {
		c.finalizeLocked(job, StateFailed, taskErr)
		return
	}

	c.writeDepotRecordLocked(job)

	if len(c.deps.PostTasks) == 0 {
		c.finishInstallLocked(job)
		return
	}

	c.setStateLocked(job, StatePostProcessing)
	installPath := c.installPathLocked(job)
	started := time.Now()
	c.handles[opPostProcess] = runner.Go(c.logger, opPostProcess, func() error {
		postprocess.RunChain(c.ctx, c.deps.PostTasks, job.Game, installPath, c.logger)
		return nil
	}, func(taskErr *accela.TaskError) {
		c.timings.Record(func(t *perf.JobTimings) { t.PostProcess = time.Since(started) })
		c.onPostProcessDone(job, taskErr)
	})
}

func (c *Coordinator) onPostProcessDone(job *Job, taskErr *accela.TaskError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if job.cancelRequested {
		if taskErr != nil {
			c.logger.WithError(taskErr).WithField("job", job.ID).Debug("Error after cancellation suppressed")
		}
		c.rollbackLocked(job)
		c.finalizeLocked(job, StateCancelled, nil)
		return
	}
	c.finishInstallLocked(job)
}

// finishInstallLocked writes the Steam-facing files for a successful
// download and completes the job. A job whose every depot failed still
// completes, with the failures carried in FailedDepots for the UI.
func (c *Coordinator) finishInstallLocked(job *Job) {
	steamapps := filepath.Join(c.config.DestinationRoot, "steamapps")
	manifest := buildAppManifest(job)
	if err := steamfiles.WriteAppManifest(c.deps.Fs, steamapps, manifest); err != nil {
		c.logger.WithError(err).WithField("job", job.ID).Warn("Failed to write appmanifest")
	}

	c.moveManifestsToDepotcacheLocked(job)

	if job.WrapperMode && c.config.AppListDir != "" {
		ids := wrapperIDs(job.Game)
		if err := steamfiles.RegisterAppIDs(c.deps.Fs, c.config.AppListDir, ids); err != nil {
			c.logger.WithError(err).WithField("job", job.ID).Warn("Failed to register wrapper applist entries")
		}
	}
	c.finalizeLocked(job, StateCompleted, nil)
}

// moveManifestsToDepotcacheLocked relocates the staged .manifest files
// into the library's depotcache so Steam can reuse them, then clears
// the staging directory so the next job starts clean.
func (c *Coordinator) moveManifestsToDepotcacheLocked(job *Job) {
	if c.config.StagingDir == "" || job.Game == nil {
		return
	}
	fs := c.deps.Fs
	depotcache := filepath.Join(c.config.DestinationRoot, "depotcache")
	if err := fs.MkdirAll(depotcache, 0o755); err != nil {
		c.logger.WithError(err).Warn("Failed to create depotcache")
		return
	}
	for depotID, manifestID := range job.Game.Manifests {
		name := fmt.Sprintf("%s_%s.manifest", depotID, manifestID)
		src := filepath.Join(c.config.StagingDir, name)
		if exists, _ := afero.Exists(fs, src); !exists {
			continue
		}
		dst := filepath.Join(depotcache, name)
		fs.Remove(dst)
		if err := fs.Rename(src, dst); err != nil {
			c.logger.WithError(err).WithField("manifest", name).Warn("Failed to move manifest to depotcache")
		}
	}
	if err := fs.RemoveAll(c.config.StagingDir); err != nil {
		c.logger.WithError(err).Warn("Failed to clear staging directory")
	}
}

// writeDepotRecordLocked persists the last-known manifest of the
// job's main depot so later update checks have a baseline.
func (c *Coordinator) writeDepotRecordLocked(job *Job) {
	for _, depotID := range job.SelectedDepots {
		manifestID := job.Game.Manifests[depotID]
		if manifestID == "" {
			continue
		}
		record := steamfiles.DepotRecord{DepotID: depotID, ManifestID: manifestID}
		if err := steamfiles.WriteDepotRecord(c.deps.Fs, c.installPathLocked(job), record); err != nil {
			c.logger.WithError(err).WithField("job", job.ID).Warn("Failed to write depot record")
		}
		return
	}
}

// rollbackLocked removes everything a cancelled job put on disk: the
// install folder, its appmanifest, the staging directory, and (outside
// wrapper mode) the now-possibly-empty parent directories. "Directory
// not empty" on the parents is expected, not exceptional.
func (c *Coordinator) rollbackLocked(job *Job) {
	fs := c.deps.Fs
	steamapps := filepath.Join(c.config.DestinationRoot, "steamapps")
	common := filepath.Join(steamapps, "common")

	if job.Game != nil {
		install := filepath.Join(common, job.Game.InstallFolderName())
		if err := fs.RemoveAll(install); err != nil {
			c.logger.WithError(err).WithField("path", install).Warn("Failed to remove partial install")
		}
		acf := steamfiles.AppManifestPath(steamapps, job.Game.AppID)
		fs.Remove(acf)
	}
	if c.config.StagingDir != "" {
		if err := fs.RemoveAll(c.config.StagingDir); err != nil {
			c.logger.WithError(err).Warn("Failed to remove staging directory")
		}
	}
	if !job.WrapperMode {
		for _, dir := range []string{common, steamapps} {
			if err := fs.Remove(dir); err != nil {
				c.logger.WithField("path", dir).Debug("Parent directory kept (not empty)")
			}
		}
	}
	c.logger.WithField("job", job.ID).Info("Rolled back cancelled job")
}

// finalizeLocked moves the job to a terminal state, records metrics
// and the timing summary, and starts the next job if the gate allows.
func (c *Coordinator) finalizeLocked(job *Job, state JobState, err error) {
	job.Err = err
	c.setStateLocked(job, state)
	metrics.JobsFinished.WithLabelValues(string(state)).Inc()

	c.timings.Record(func(t *perf.JobTimings) { t.Total = time.Since(job.EnqueuedAt) })
	fields := c.timings.Fields()
	fields["job"] = job.ID
	fields["state"] = state
	fields["failed_depots"] = len(job.FailedDepots)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("Job finished")
	} else {
		c.logger.WithFields(fields).Info("Job finished")
	}

	c.history = append(c.history, job)
	c.active = nil
	c.maybeStartLocked()
}

func (c *Coordinator) setStateLocked(job *Job, state JobState) {
	job.State = state
	if err := c.journal.record(job); err != nil {
		c.logger.WithError(err).Warn("Failed to journal job state")
	}
	c.emit(Event{Kind: EventJobState, JobID: job.ID, State: state})
}

func (c *Coordinator) installPathLocked(job *Job) string {
	return filepath.Join(c.config.DestinationRoot, "steamapps", "common", job.Game.InstallFolderName())
}

func (c *Coordinator) pendingSliceLocked() []*Job {
	jobs := make([]*Job, 0, c.pending.Len())
	for it := c.pending.Iterator(); !it.Done(); {
		_, job := it.Next()
		jobs = append(jobs, job)
	}
	return jobs
}

func (c *Coordinator) setPendingLocked(jobs []*Job) {
	builder := immutable.NewListBuilder[*Job]()
	for _, job := range jobs {
		builder.Append(job)
	}
	c.pending = builder.List()
}

// emit never blocks; a lagging consumer loses events rather than
// stalling the pipeline.
func (c *Coordinator) emit(event Event) {
	select {
	case c.events <- event:
	default:
	}
}

func sortedDepotIDs(depots map[string]accela.DepotInfo) []string {
	ids := make([]string, 0, len(depots))
	for id := range depots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// buildAppManifest renders the job's result as a Steam appmanifest.
func buildAppManifest(job *Job) steamfiles.AppManifest {
	game := job.Game
	manifest := steamfiles.AppManifest{
		AppID:      game.AppID,
		Name:       game.GameName,
		InstallDir: game.InstallFolderName(),
		BuildID:    game.BuildID,
	}
	for _, depotID := range job.SelectedDepots {
		manifestID := game.Manifests[depotID]
		if manifestID == "" {
			continue
		}
		depot := game.Depots[depotID]
		manifest.Depots = append(manifest.Depots, steamfiles.InstalledDepot{
			DepotID:    depotID,
			ManifestID: manifestID,
			SizeBytes:  depot.SizeBytes,
		})
		manifest.SizeOnDisk += depot.SizeBytes
	}
	manifest.PlatformOverride = platformOverride(game, job.SelectedDepots)
	return manifest
}

// platformOverride reports whether the install needs Steam's platform
// override: on a non-Windows host, an install consisting entirely of
// Windows depots is launched through compatibility tooling.
func platformOverride(game *accela.GameData, selected []string) string {
	if runtime.GOOS == "windows" {
		return ""
	}
	sawKnown := false
	for _, depotID := range selected {
		depot, ok := game.Depots[depotID]
		if !ok || depot.OSList == "" || depot.OSList == accela.OSUnknown || depot.OSList == accela.OSAll {
			continue
		}
		if depot.OSList != accela.OSWindows {
			return ""
		}
		sawKnown = true
	}
	if sawKnown {
		return "windows"
	}
	return ""
}

// wrapperIDs is the set of ids the compatibility wrapper must unlock:
// the app itself, its depots, and its DLC.
func wrapperIDs(game *accela.GameData) []string {
	ids := []string{game.AppID}
	ids = append(ids, sortedDepotIDs(game.Depots)...)
	dlcs := make([]string, 0, len(game.DLCs))
	for id := range game.DLCs {
		dlcs = append(dlcs, id)
	}
	sort.Strings(dlcs)
	return append(ids, dlcs...)
}
