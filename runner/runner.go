// Package runner provides the background worker plumbing shared by all
// long-running tasks: a goroutine runner that captures panics as
// structured errors, per-operation handles the coordinator can wait on
// for quiescence, and a counting guard bounding concurrent operations.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

// Handle represents one outstanding background operation. The coordinator
// keeps a named set of handles and only advances the queue once every
// handle's Done channel has closed.
type Handle struct {
	Name string

	done chan struct{}
	mu   sync.Mutex
	err  *accela.TaskError
}

// Done is closed once the worker goroutine has fully returned, including
// its deferred cleanup. After Done closes, Err is stable.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the structured failure of the operation, or nil.
func (h *Handle) Err() *accela.TaskError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Finished reports whether the operation has completed (successfully or
// not) without blocking.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Go runs fn on its own goroutine. A panic inside fn is recovered and
// converted into a *accela.TaskError rather than crossing the goroutine
// boundary; errors returned by fn are wrapped the same way. onDone, if
// non-nil, runs on the worker goroutine after Done has closed, so a
// callback that re-checks handle quiescence observes this operation as
// finished.
func Go(logger logrus.FieldLogger, name string, fn func() error, onDone func(*accela.TaskError)) *Handle {
	h := &Handle{Name: name, done: make(chan struct{})}

	go func() {
		var taskErr *accela.TaskError
		func() {
			defer func() {
				if r := recover(); r != nil {
					stack := debug.Stack()
					logger.WithFields(logrus.Fields{
						"operation": name,
						"panic":     r,
						"stack":     string(stack),
					}).Error("recovered from panic in worker")
					taskErr = &accela.TaskError{
						Op:      name,
						Message: fmt.Sprintf("panic: %v", r),
						Stack:   string(stack),
					}
				}
			}()
			if err := fn(); err != nil {
				taskErr = &accela.TaskError{Op: name, Message: err.Error(), Err: err}
			}
		}()

		h.mu.Lock()
		h.err = taskErr
		h.mu.Unlock()

		close(h.done)

		if onDone != nil {
			onDone(taskErr)
		}
	}()

	return h
}

// Guard bounds concurrent holders of a shared resource. A health
// check, when configured, runs before each acquisition.
type Guard struct {
	mu        sync.Mutex
	semaphore chan struct{}
	activeOps int
	logger    logrus.FieldLogger
	healthFn  func(context.Context) error
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// MaxConcurrent is the number of concurrent holders (default 1).
	MaxConcurrent int
	Logger        logrus.FieldLogger
	// HealthCheckFunc runs before each acquisition when set.
	HealthCheckFunc func(context.Context) error
}

// NewGuard creates a guard.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Guard{
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		logger:    cfg.Logger.WithField("component", "guard"),
		healthFn:  cfg.HealthCheckFunc,
	}
}

// Acquire takes a slot, blocking until one is free or ctx is done.
func (g *Guard) Acquire(ctx context.Context, opName string) error {
	select {
	case g.semaphore <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for %s slot: %w", opName, ctx.Err())
	}

	g.mu.Lock()
	g.activeOps++
	active := g.activeOps
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"operation":  opName,
		"active_ops": active,
	}).Debug("acquired slot")

	if g.healthFn != nil {
		if err := g.healthFn(ctx); err != nil {
			g.Release(opName)
			return fmt.Errorf("health check failed before %s: %w", opName, err)
		}
	}
	return nil
}

// Release returns a slot.
func (g *Guard) Release(opName string) {
	g.mu.Lock()
	g.activeOps--
	active := g.activeOps
	g.mu.Unlock()

	<-g.semaphore

	g.logger.WithFields(logrus.Fields{
		"operation":  opName,
		"active_ops": active,
	}).Debug("released slot")
}

// ActiveOperations returns the number of current holders.
func (g *Guard) ActiveOperations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeOps
}

// WithOperation runs fn while holding a slot.
func (g *Guard) WithOperation(ctx context.Context, opName string, fn func() error) error {
	if err := g.Acquire(ctx, opName); err != nil {
		return err
	}
	defer g.Release(opName)
	return fn()
}
