package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// The coordinator re-runs its quiescence gate from inside onDone, so
// the handle must already read as finished by the time the callback
// fires. If Done closed after onDone, the gate would see its own
// operation as still running and the queue would never advance.
func TestHandleFinishedBeforeOnDone(t *testing.T) {
	var h *Handle
	started := make(chan struct{})
	observed := make(chan bool, 1)

	h = Go(quietLogger(), "op", func() error {
		<-started
		return nil
	}, func(taskErr *accela.TaskError) {
		observed <- h.Finished()
	})
	close(started)

	select {
	case finished := <-observed:
		if !finished {
			t.Fatal("handle not finished inside onDone")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("onDone never ran")
	}
	<-h.Done()
}

func TestGoCapturesError(t *testing.T) {
	boom := errors.New("boom")
	h := Go(quietLogger(), "failing", func() error { return boom }, nil)
	<-h.Done()

	taskErr := h.Err()
	if taskErr == nil || taskErr.Op != "failing" {
		t.Fatalf("err = %+v, want op 'failing'", taskErr)
	}
	if !errors.Is(taskErr.Err, boom) {
		t.Errorf("cause = %v, want boom", taskErr.Err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	h := Go(quietLogger(), "panicking", func() error { panic("kaboom") }, nil)
	<-h.Done()

	taskErr := h.Err()
	if taskErr == nil {
		t.Fatal("panic was not captured")
	}
	if taskErr.Stack == "" {
		t.Error("captured panic carries no stack")
	}
}

func TestGuardBoundsConcurrency(t *testing.T) {
	guard := NewGuard(GuardConfig{MaxConcurrent: 1, Logger: quietLogger()})

	if err := guard.Acquire(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := guard.Acquire(ctx, "second"); err == nil {
		t.Fatal("second acquisition succeeded while slot held")
	}
	guard.Release("first")

	if err := guard.Acquire(context.Background(), "second"); err != nil {
		t.Fatalf("acquisition after release failed: %v", err)
	}
	guard.Release("second")
}
