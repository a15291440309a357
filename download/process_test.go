package download

import (
	"os/exec"
	"runtime"
	"testing"
	"time"
)

// A shell that spawns a shell that spawns sleep gives the tree a
// grandchild, which direct-children enumeration would miss.
func TestProcessTreeIncludesGrandchildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}

	cmd := exec.Command("/bin/sh", "-c", "/bin/sh -c 'sleep 30; sleep 30' & wait")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		killTree(int32(cmd.Process.Pid))
		cmd.Wait()
	}()

	pid := int32(cmd.Process.Pid)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		procs, err := processTree(pid)
		if err != nil {
			t.Fatal(err)
		}
		if len(procs) >= 3 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	procs, _ := processTree(pid)
	t.Fatalf("tree has %d processes, want root + child shell + sleep", len(procs))
}

func TestKillTreeTerminatesDescendants(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}

	cmd := exec.Command("/bin/sh", "-c", "/bin/sh -c 'sleep 30; sleep 30' & wait")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}

	// Give the subtree time to materialize before reaping it.
	time.Sleep(200 * time.Millisecond)
	if err := killTree(int32(cmd.Process.Pid)); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("root process survived killTree")
	}
}
