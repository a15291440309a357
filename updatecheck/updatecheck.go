// Package updatecheck classifies installed games against the
// currently published manifests. It is strictly read-only: it never
// touches the metadata cache or the on-disk depot records, so repeated
// checks are idempotent.
package updatecheck

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	accela "github.com/FaultyPacketOverflowVector/Accela"
	"github.com/FaultyPacketOverflowVector/Accela/runner"
	"github.com/FaultyPacketOverflowVector/Accela/steamfiles"
)

// ManifestSource provides fresh (cache-bypassing) metadata. The
// resolver's FetchFresh satisfies this; going through the cache here
// would let a stale entry mask a newly published build.
type ManifestSource interface {
	FetchFresh(ctx context.Context, appID string) *accela.AppMetadata
}

// Result is the per-game outcome streamed to the caller.
type Result struct {
	AppID  string
	Status accela.UpdateStatus
}

// Config holds rate-limiting discipline for the batched fetch.
type Config struct {
	// BatchSize is how many apps are fetched per chunk.
	BatchSize int
	// BatchDelay is the pause between chunks.
	BatchDelay time.Duration
	// MaxInFlight bounds concurrent fetches within a chunk.
	MaxInFlight int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   20,
		BatchDelay:  300 * time.Millisecond,
		MaxInFlight: 5,
	}
}

// Checker runs update checks over the installed library.
type Checker struct {
	fs     afero.Fs
	source ManifestSource
	config Config
	guard  *runner.Guard
	logger *logrus.Logger
}

// New builds a Checker.
func New(fs afero.Fs, source ManifestSource, config Config, logger *logrus.Logger) *Checker {
	if logger == nil {
		logger = logrus.New()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultConfig().MaxInFlight
	}
	return &Checker{
		fs:     fs,
		source: source,
		config: config,
		guard: runner.NewGuard(runner.GuardConfig{
			MaxConcurrent: config.MaxInFlight,
			Logger:        logger,
		}),
		logger: logger,
	}
}

// Run checks every game and streams one Result per game. The returned
// channel closes on completion or when ctx is cancelled; cancellation
// takes effect between chunks, never mid-fetch.
func (c *Checker) Run(ctx context.Context, games []accela.InstalledGame) <-chan Result {
	results := make(chan Result, len(games))
	go func() {
		defer close(results)
		c.run(ctx, games, results)
	}()
	return results
}

func (c *Checker) run(ctx context.Context, games []accela.InstalledGame, results chan<- Result) {
	checkable := make([]accela.InstalledGame, 0, len(games))
	for _, game := range games {
		if !accela.ValidAppID(game.AppID) {
			results <- Result{AppID: game.AppID, Status: accela.UpdateStatusCannotDetermine}
			continue
		}
		checkable = append(checkable, game)
	}

	fresh := c.fetchBatched(ctx, checkable)

	for _, game := range checkable {
		if ctx.Err() != nil {
			return
		}
		status := c.classify(game, fresh[game.AppID])
		c.logger.WithFields(logrus.Fields{
			"appid":  game.AppID,
			"name":   game.Name,
			"status": status,
		}).Debug("Update check result")
		results <- Result{AppID: game.AppID, Status: status}
	}
}

// fetchBatched pulls fresh metadata for all games in fixed-size chunks
// with a delay between chunks. Fetches within a chunk run concurrently
// behind the guard; the chunk delay is rate limiting toward the remote
// services.
func (c *Checker) fetchBatched(ctx context.Context, games []accela.InstalledGame) map[string]*accela.AppMetadata {
	fresh := make(map[string]*accela.AppMetadata, len(games))
	var mu sync.Mutex
	for start := 0; start < len(games); start += c.config.BatchSize {
		if start > 0 {
			select {
			case <-time.After(c.config.BatchDelay):
			case <-ctx.Done():
				return fresh
			}
		}
		end := start + c.config.BatchSize
		if end > len(games) {
			end = len(games)
		}

		var wg sync.WaitGroup
		for _, game := range games[start:end] {
			wg.Add(1)
			go func(game accela.InstalledGame) {
				defer wg.Done()
				c.guard.WithOperation(ctx, "update-check-fetch", func() error {
					meta := c.source.FetchFresh(ctx, game.AppID)
					mu.Lock()
					fresh[game.AppID] = meta
					mu.Unlock()
					return nil
				})
			}(game)
		}
		wg.Wait()
	}
	return fresh
}

// classify compares the install's persisted depot record against the
// freshly fetched manifest for that depot.
func (c *Checker) classify(game accela.InstalledGame, meta *accela.AppMetadata) accela.UpdateStatus {
	record, ok := steamfiles.ReadDepotRecord(c.fs, game.InstallPath)
	if !ok {
		return accela.UpdateStatusCannotDetermine
	}
	if meta == nil {
		return accela.UpdateStatusCannotDetermine
	}
	depot, ok := meta.Depots[record.DepotID]
	if !ok || depot.ManifestID == "" {
		return accela.UpdateStatusCannotDetermine
	}
	if depot.ManifestID != record.ManifestID {
		return accela.UpdateStatusAvailable
	}
	return accela.UpdateStatusUpToDate
}
