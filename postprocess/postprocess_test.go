package postprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestSwapExecutableReplacesTarget(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "game.exe")
	unpacked := exe + unpackedSuffix

	if err := os.WriteFile(exe, []byte("packed"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(unpacked, []byte("clean"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := swapExecutable(exe, unpacked); err != nil {
		t.Fatalf("swapExecutable: %v", err)
	}

	data, err := os.ReadFile(exe)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "clean" {
		t.Errorf("exe content = %q, want clean", data)
	}
	if _, err := os.Stat(unpacked); !os.IsNotExist(err) {
		t.Error("unpacked file still present after swap")
	}
	if _, err := os.Stat(exe + backupSuffix); !os.IsNotExist(err) {
		t.Error("backup left behind after successful swap")
	}
}

func TestSwapExecutableRollsBackWhenUnpackedMissing(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "game.exe")
	if err := os.WriteFile(exe, []byte("packed"), 0o755); err != nil {
		t.Fatal(err)
	}

	err := swapExecutable(exe, exe+unpackedSuffix)
	if err == nil {
		t.Fatal("expected swap to fail")
	}

	// The original executable must have been restored.
	data, readErr := os.ReadFile(exe)
	if readErr != nil {
		t.Fatalf("executable missing after failed swap: %v", readErr)
	}
	if string(data) != "packed" {
		t.Errorf("exe content = %q, want packed", data)
	}
}

type recordingTask struct {
	name string
	err  error
	runs int
}

func (r *recordingTask) Name() string { return r.name }
func (r *recordingTask) Stop()        {}
func (r *recordingTask) Run(_ context.Context, _ *accela.GameData, _ string) error {
	r.runs++
	return r.err
}

func TestRunChainContinuesPastFailures(t *testing.T) {
	first := &recordingTask{name: "steamless", err: errors.New("stripper exploded")}
	second := &recordingTask{name: "achievements"}
	game := &accela.GameData{AppID: "100"}

	results := RunChain(context.Background(), []Task{first, second}, game, "/install", quietLogger())

	if first.runs != 1 || second.runs != 1 {
		t.Fatalf("runs = %d, %d; want 1, 1", first.runs, second.runs)
	}
	if results["steamless"] == nil {
		t.Error("expected steamless failure to be reported")
	}
	if results["achievements"] != nil {
		t.Errorf("achievements error = %v", results["achievements"])
	}
}

func TestRunChainStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := &recordingTask{name: "steamless"}
	RunChain(ctx, []Task{task}, &accela.GameData{AppID: "100"}, "/install", quietLogger())

	if task.runs != 0 {
		t.Errorf("task ran %d times under a cancelled context", task.runs)
	}
}
