package download

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/process"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

// processTree returns the process plus all of its descendants. The
// downloader spawns helper processes which spawn their own, so pause
// and kill must cover the whole tree, not just the direct children.
func processTree(pid int32) ([]*process.Process, error) {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("%w: pid %d: %v", accela.ErrPauseUnsupported, pid, err)
	}
	tree := []*process.Process{root}
	appendDescendants(root, &tree)
	return tree, nil
}

// appendDescendants collects the subtree under proc. Children reports
// only one level, so grandchildren need the recursion.
func appendDescendants(proc *process.Process, tree *[]*process.Process) {
	children, err := proc.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		*tree = append(*tree, child)
		appendDescendants(child, tree)
	}
}

// suspendTree suspends (paused=true) or resumes every process in the
// tree rooted at pid. A platform without suspend capability surfaces
// ErrPauseUnsupported instead of silently doing nothing.
func suspendTree(pid int32, paused bool) error {
	tree, err := processTree(pid)
	if err != nil {
		return err
	}
	for _, proc := range tree {
		if paused {
			err = proc.Suspend()
		} else {
			err = proc.Resume()
		}
		if err != nil {
			return fmt.Errorf("%w: pid %d: %v", accela.ErrPauseUnsupported, proc.Pid, err)
		}
	}
	return nil
}

// killTree forcefully terminates every process in the tree rooted at
// pid, children first so the root cannot respawn them.
func killTree(pid int32) error {
	tree, err := processTree(pid)
	if err != nil {
		return err
	}
	for i := len(tree) - 1; i >= 0; i-- {
		// Best effort per process; a child may already have exited.
		tree[i].Kill()
	}
	return nil
}
