package postprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

// AchievementsConfig configures the achievement-generation step.
type AchievementsConfig struct {
	// Command invokes the generator; appid and install path are
	// appended as its final two arguments.
	Command []string
}

// AchievementsTask generates local achievement data for a downloaded
// title by driving an external generator subprocess.
type AchievementsTask struct {
	config AchievementsConfig
	logger *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAchievements builds the achievement-generation step.
func NewAchievements(config AchievementsConfig, logger *logrus.Logger) *AchievementsTask {
	if logger == nil {
		logger = logrus.New()
	}
	return &AchievementsTask{config: config, logger: logger}
}

func (t *AchievementsTask) Name() string { return "achievements" }

// Stop aborts the generator subprocess.
func (t *AchievementsTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Run invokes the generator for the game, streaming its output into
// the log.
func (t *AchievementsTask) Run(ctx context.Context, game *accela.GameData, installPath string) error {
	if len(t.config.Command) == 0 {
		return fmt.Errorf("no achievement generator configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	args := append(append([]string(nil), t.config.Command[1:]...), game.AppID, installPath)
	cmd := exec.CommandContext(ctx, t.config.Command[0], args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return fmt.Errorf("failed to start achievement generator: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			t.logger.WithField("appid", game.AppID).Debug(scanner.Text())
		}
	}()

	err := cmd.Wait()
	pw.Close()
	<-done

	if err != nil {
		return fmt.Errorf("achievement generator failed for app %s: %w", game.AppID, err)
	}
	return nil
}
