// Package postprocess runs the optional per-install finishing steps
// after a download: DRM stripping and achievement data generation.
// Steps are chained sequentially but fail independently: one step
// failing never skips the next. Each step is stoppable on its own
// because either can run for minutes.
package postprocess

import (
	"context"

	"github.com/sirupsen/logrus"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

// Task is one post-processing step over a finished install.
type Task interface {
	Name() string
	Run(ctx context.Context, game *accela.GameData, installPath string) error
	// Stop aborts the task's current subprocess. Safe to call at any
	// time from another goroutine.
	Stop()
}

// RunChain executes tasks in order. Failures are logged and reported
// but do not short-circuit the chain. The returned map carries the
// per-task error (nil for success).
func RunChain(ctx context.Context, tasks []Task, game *accela.GameData, installPath string, logger *logrus.Logger) map[string]error {
	results := make(map[string]error, len(tasks))
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		logger.WithFields(logrus.Fields{
			"task":  task.Name(),
			"appid": game.AppID,
		}).Info("Running post-processing step")

		err := task.Run(ctx, game, installPath)
		results[task.Name()] = err
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"task":  task.Name(),
				"appid": game.AppID,
			}).Warn("Post-processing step failed, continuing with next step")
		}
	}
	return results
}
