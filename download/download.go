// Package download drives the external per-depot downloader. One
// subprocess is spawned per selected depot, strictly in caller order;
// their progress output is folded into a single byte-weighted
// percentage. One depot failing does not abort the run. Pause works by
// suspending the subprocess tree at the OS level; cancellation kills
// the tree outright.
package download

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	accela "github.com/FaultyPacketOverflowVector/Accela"
	"github.com/FaultyPacketOverflowVector/Accela/metrics"
)

// State is the task lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateErrored   State = "errored"
)

// DepotStatus reports how one depot fared.
type DepotStatus string

const (
	DepotStarted   DepotStatus = "started"
	DepotSucceeded DepotStatus = "succeeded"
	DepotFailed    DepotStatus = "failed"
	DepotSkipped   DepotStatus = "skipped"
)

// Event is the union of messages a running task emits.
type Event interface{ downloadEvent() }

// LogEvent carries one raw output line from the downloader.
type LogEvent struct{ Line string }

// ProgressEvent carries the overall percentage after a change.
type ProgressEvent struct{ Percent float64 }

// DepotEvent reports a per-depot lifecycle transition.
type DepotEvent struct {
	DepotID string
	Status  DepotStatus
}

// DoneEvent is the final message before the event channel closes.
type DoneEvent struct {
	State   State
	Failed  []string
	Skipped []string
	Err     error
}

func (LogEvent) downloadEvent()      {}
func (ProgressEvent) downloadEvent() {}
func (DepotEvent) downloadEvent()    {}
func (DoneEvent) downloadEvent()     {}

// keyFileName is the ephemeral decryption-key file written into the
// staging directory for the downloader, removed after the run.
const keyFileName = "depot_keys.txt"

// Config holds downloader invocation settings.
type Config struct {
	// DownloaderPath is the path of the external depot downloader binary.
	DownloaderPath string
	// StagingDir holds extracted manifests and the ephemeral key file.
	StagingDir string
	// MaxDownloads is the worker-count hint passed to the downloader.
	MaxDownloads int
	// Validate makes the downloader verify existing files on disk.
	Validate bool
	// SLSsteamConfig, when set, is the compatibility layer config whose
	// PlayNotOwnedGames flag is enabled after each run.
	SLSsteamConfig string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DownloaderPath: "DepotDownloaderMod",
		MaxDownloads:   25,
		Validate:       true,
	}
}

// Task downloads the selected depots of one game.
//
// A Task is single-use: Run may be called once. Stop, Kill and
// TogglePause may be called concurrently from other goroutines.
type Task struct {
	config Config
	logger *logrus.Logger
	events chan Event

	mu            sync.Mutex
	state         State
	stopRequested bool
	current       *exec.Cmd
}

// NewTask builds an idle download task.
func NewTask(config Config, logger *logrus.Logger) *Task {
	if logger == nil {
		logger = logrus.New()
	}
	return &Task{
		config: config,
		logger: logger,
		events: make(chan Event, 1024),
		state:  StateIdle,
	}
}

// Events returns the task's event stream. It is closed after the
// DoneEvent once Run returns.
func (t *Task) Events() <-chan Event { return t.events }

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stop requests a graceful stop: the current depot's subprocess is
// allowed to finish, remaining depots are skipped.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopRequested = true
}

// Kill requests a hard cancel: remaining depots are skipped and the
// current subprocess tree is terminated immediately.
func (t *Task) Kill() {
	t.mu.Lock()
	t.stopRequested = true
	cmd := t.current
	t.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := killTree(int32(cmd.Process.Pid)); err != nil {
			t.logger.WithError(err).Warn("Failed to kill downloader process tree")
			cmd.Process.Kill()
		}
	}
}

// TogglePause suspends or resumes the current subprocess tree. Pausing
// with no active subprocess is a no-op. A platform without suspend
// capability returns ErrPauseUnsupported.
func (t *Task) TogglePause(paused bool) error {
	t.mu.Lock()
	cmd := t.current
	t.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return suspendTree(int32(cmd.Process.Pid), paused)
}

// plannedDepot is one depot that passed validation and will be handed
// to the downloader.
type plannedDepot struct {
	id         string
	manifestID string
	sizeBytes  int64
}

// Run downloads the selected depots of game into
// {destRoot}/steamapps/common/{install folder}. It blocks until all
// depots finish, the task is stopped, or a fatal error occurs, then
// emits a DoneEvent and closes the event channel.
func (t *Task) Run(ctx context.Context, game *accela.GameData, selected []string, destRoot string) error {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return fmt.Errorf("download task already started (state %s)", t.state)
	}
	t.state = StateRunning
	t.mu.Unlock()

	err := t.run(ctx, game, selected, destRoot)
	return err
}

func (t *Task) run(ctx context.Context, game *accela.GameData, selected []string, destRoot string) error {
	defer close(t.events)

	if len(game.Manifests) == 0 {
		return t.fail(fmt.Errorf("%w: app %s", accela.ErrNoManifests, game.AppID))
	}
	if _, err := exec.LookPath(t.config.DownloaderPath); err != nil {
		return t.fail(fmt.Errorf("%w: %s", accela.ErrDownloaderMissing, t.config.DownloaderPath))
	}

	keyFile := filepath.Join(t.config.StagingDir, keyFileName)
	if err := writeKeyFile(keyFile, game, selected); err != nil {
		return t.fail(fmt.Errorf("failed to write key file: %w", err))
	}
	defer t.cleanup(keyFile)

	dest := filepath.Join(destRoot, "steamapps", "common", game.InstallFolderName())
	planned, skipped := planDepots(game, selected, t.logger)
	for _, id := range skipped {
		t.emit(DepotEvent{DepotID: id, Status: DepotSkipped})
	}

	var total int64
	for _, depot := range planned {
		total += depot.sizeBytes
	}
	agg := newProgressAggregator(total)

	var failed []string
	for _, depot := range planned {
		if t.stopping() || ctx.Err() != nil {
			return t.finish(StateStopped, failed, skipped)
		}

		agg.startDepot(depot.sizeBytes)
		t.emit(DepotEvent{DepotID: depot.id, Status: DepotStarted})

		err := t.runDepot(ctx, game.AppID, depot, keyFile, dest, agg)
		if err != nil {
			failed = append(failed, depot.id)
			agg.finishDepot(false)
			metrics.DepotDownloads.WithLabelValues("failed").Inc()
			t.logger.WithError(err).WithFields(logrus.Fields{
				"appid": game.AppID,
				"depot": depot.id,
			}).Warn("Depot download failed, continuing with remaining depots")
			t.emit(DepotEvent{DepotID: depot.id, Status: DepotFailed})
			continue
		}
		agg.finishDepot(true)
		metrics.DepotDownloads.WithLabelValues("succeeded").Inc()
		t.emit(DepotEvent{DepotID: depot.id, Status: DepotSucceeded})
	}

	if t.stopping() {
		return t.finish(StateStopped, failed, skipped)
	}
	return t.finish(StateCompleted, failed, skipped)
}

// runDepot spawns one downloader subprocess and streams its output.
// The reader runs on its own goroutine so a slow event consumer never
// backpressures the subprocess through its stdout buffer.
func (t *Task) runDepot(ctx context.Context, appID string, depot plannedDepot, keyFile, dest string, agg *progressAggregator) error {
	manifestFile := filepath.Join(t.config.StagingDir, depot.id+"_"+depot.manifestID+".manifest")

	args := []string{
		"-app", appID,
		"-depot", depot.id,
		"-manifest", depot.manifestID,
		"-manifestfile", manifestFile,
		"-depotkeys", keyFile,
		"-max-downloads", strconv.Itoa(t.config.MaxDownloads),
		"-dir", dest,
	}
	if t.config.Validate {
		args = append(args, "-validate")
	}

	cmd := exec.CommandContext(ctx, t.config.DownloaderPath, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	t.logger.WithFields(logrus.Fields{
		"appid":    appID,
		"depot":    depot.id,
		"manifest": depot.manifestID,
		"size":     depot.sizeBytes,
	}).Info("Starting depot download")

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return fmt.Errorf("failed to start downloader: %w", err)
	}

	t.mu.Lock()
	t.current = cmd
	t.mu.Unlock()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			t.emitLog(line)
			if pct, ok := parsePercent(line); ok {
				if overall, emit := agg.update(pct); emit {
					t.emit(ProgressEvent{Percent: overall})
				}
			}
		}
	}()

	err := cmd.Wait()
	pw.Close()
	<-readerDone

	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("downloader exited abnormally for depot %s: %w", depot.id, err)
	}
	return nil
}

// planDepots validates the selection in caller order: depots without a
// manifest id are skipped, depots without a known size are planned at
// zero bytes with a warning.
func planDepots(game *accela.GameData, selected []string, logger *logrus.Logger) (planned []plannedDepot, skipped []string) {
	for _, id := range selected {
		depot, ok := game.Depots[id]
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		manifestID := depot.ManifestID
		if manifestID == "" {
			manifestID = game.Manifests[id]
		}
		if manifestID == "" {
			logger.WithFields(logrus.Fields{
				"appid": game.AppID,
				"depot": id,
			}).Warn("No manifest for depot, skipping")
			skipped = append(skipped, id)
			continue
		}
		if depot.SizeBytes <= 0 {
			logger.WithFields(logrus.Fields{
				"appid": game.AppID,
				"depot": id,
			}).Warn("Depot has no known size, progress weighting degrades")
		}
		planned = append(planned, plannedDepot{
			id:         id,
			manifestID: manifestID,
			sizeBytes:  depot.SizeBytes,
		})
	}
	return planned, skipped
}

// writeKeyFile writes the ephemeral "{depot};{key}" file the
// downloader reads decryption keys from.
func writeKeyFile(path string, game *accela.GameData, selected []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, id := range selected {
		depot, ok := game.Depots[id]
		if !ok || depot.DecryptionKey == "" {
			continue
		}
		fmt.Fprintf(&b, "%s;%s\n", id, depot.DecryptionKey)
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

// cleanup removes the key file and enables the compatibility layer
// flag. Both are best effort and never fail the run.
func (t *Task) cleanup(keyFile string) {
	if err := os.Remove(keyFile); err != nil && !os.IsNotExist(err) {
		t.logger.WithError(err).Warn("Failed to remove depot key file")
	}
	if t.config.SLSsteamConfig != "" {
		if err := EnsurePlayNotOwned(t.config.SLSsteamConfig); err != nil {
			t.logger.WithError(err).Warn("Failed to enable PlayNotOwnedGames")
		}
	}
}

func (t *Task) stopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopRequested
}

func (t *Task) fail(err error) error {
	t.setState(StateErrored)
	t.emit(DoneEvent{State: StateErrored, Err: err})
	return err
}

func (t *Task) finish(state State, failed, skipped []string) error {
	t.setState(state)
	t.emit(DoneEvent{State: state, Failed: failed, Skipped: skipped})
	return nil
}

func (t *Task) setState(state State) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

func (t *Task) emit(event Event) {
	t.events <- event
}

// emitLog drops lines when the consumer lags; raw output is advisory
// and must never stall the reader.
func (t *Task) emitLog(line string) {
	select {
	case t.events <- LogEvent{Line: line}:
	default:
	}
}
