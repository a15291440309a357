package postprocess

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

// unpackedSuffix is what the DRM stripper appends to its output file.
const unpackedSuffix = ".unpacked.exe"

// backupSuffix marks the original executable kept next to the swapped
// one so a later failure can be undone by hand.
const backupSuffix = ".original"

// SteamlessConfig configures the DRM-strip step.
type SteamlessConfig struct {
	// Command invokes the stripper; the executable path is appended.
	// Typically a wine/proton wrapper plus the Steamless CLI binary.
	Command []string
}

// SteamlessTask strips Steam DRM stubs from the install's Windows
// executables by driving an external stripper subprocess per file and
// swapping the unpacked output into place.
type SteamlessTask struct {
	config SteamlessConfig
	logger *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSteamless builds the DRM-strip step.
func NewSteamless(config SteamlessConfig, logger *logrus.Logger) *SteamlessTask {
	if logger == nil {
		logger = logrus.New()
	}
	return &SteamlessTask{config: config, logger: logger}
}

func (t *SteamlessTask) Name() string { return "steamless" }

// Stop aborts the in-flight stripper subprocess. Already swapped
// executables stay swapped; the file currently being processed is left
// untouched because the swap only happens after the subprocess
// succeeds.
func (t *SteamlessTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Run strips every .exe under installPath. Per-file failures are
// logged and skipped; Run only fails when no stripper command is
// configured or the walk itself fails.
func (t *SteamlessTask) Run(ctx context.Context, game *accela.GameData, installPath string) error {
	if len(t.config.Command) == 0 {
		return fmt.Errorf("no DRM stripper configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	var exes []string
	err := filepath.Walk(installPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ".exe") &&
			!strings.HasSuffix(path, unpackedSuffix) {
			exes = append(exes, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s for executables: %w", installPath, err)
	}

	for _, exe := range exes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := t.stripOne(ctx, game.AppID, exe); err != nil {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"appid": game.AppID,
				"exe":   exe,
			}).Warn("DRM strip failed for executable")
		}
	}
	return nil
}

func (t *SteamlessTask) stripOne(ctx context.Context, appID, exe string) error {
	args := append(append([]string(nil), t.config.Command[1:]...), exe)
	cmd := exec.CommandContext(ctx, t.config.Command[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("stripper failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	unpacked := exe + unpackedSuffix
	if _, err := os.Stat(unpacked); err != nil {
		// No output file means the executable had no DRM stub.
		t.logger.WithField("exe", exe).Debug("No DRM stub found")
		return nil
	}
	if err := swapExecutable(exe, unpacked); err != nil {
		return err
	}
	t.logger.WithFields(logrus.Fields{
		"appid": appID,
		"exe":   exe,
	}).Info("Stripped DRM from executable")
	return nil
}

// swapExecutable replaces exe with unpacked via rename-swap. If the
// second rename fails the original is restored, so the target is never
// left missing.
func swapExecutable(exe, unpacked string) error {
	backup := exe + backupSuffix
	if err := os.Rename(exe, backup); err != nil {
		return fmt.Errorf("failed to back up %s: %w", exe, err)
	}
	if err := os.Rename(unpacked, exe); err != nil {
		if restoreErr := os.Rename(backup, exe); restoreErr != nil {
			return fmt.Errorf("failed to swap %s and rollback also failed: %v (swap error: %w)", exe, restoreErr, err)
		}
		return fmt.Errorf("failed to swap in unpacked executable for %s: %w", exe, err)
	}
	os.Remove(backup)
	return nil
}
