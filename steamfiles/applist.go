package steamfiles

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// The compatibility wrapper reads its unlocked-app registrations from
// an AppList directory of sequentially numbered files, each holding a
// single app or depot id: 0.txt, 1.txt, 2.txt, ...

// ReadAppList returns the ids currently registered, in file order.
func ReadAppList(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read applist dir %s: %w", dir, err)
	}

	type numbered struct {
		index int
		id    string
	}
	var files []numbered
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSuffix(entry.Name(), ".txt"))
		if err != nil {
			continue
		}
		data, err := afero.ReadFile(fs, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read applist entry %s: %w", entry.Name(), err)
		}
		id := strings.TrimSpace(string(data))
		if id == "" {
			continue
		}
		files = append(files, numbered{index: index, id: id})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })

	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.id)
	}
	return ids, nil
}

// RegisterAppIDs adds ids to the applist, deduplicating against what
// is already registered and rewriting the directory with contiguous
// numbering. Gaps left by manual deletions are squashed in the
// process, which is what the wrapper expects.
func RegisterAppIDs(fs afero.Fs, dir string, ids []string) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create applist dir %s: %w", dir, err)
	}
	existing, err := ReadAppList(fs, dir)
	if err != nil {
		return err
	}

	seen := map[string]struct{}{}
	merged := make([]string, 0, len(existing)+len(ids))
	for _, id := range append(existing, ids...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	return writeAppList(fs, dir, merged)
}

// UnregisterAppIDs removes ids from the applist and renumbers the
// remaining entries contiguously.
func UnregisterAppIDs(fs afero.Fs, dir string, ids []string) error {
	existing, err := ReadAppList(fs, dir)
	if err != nil {
		return err
	}
	drop := map[string]struct{}{}
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make([]string, 0, len(existing))
	for _, id := range existing {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	return writeAppList(fs, dir, kept)
}

func writeAppList(fs afero.Fs, dir string, ids []string) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return fmt.Errorf("failed to read applist dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".txt") {
			if err := fs.Remove(dir + "/" + entry.Name()); err != nil {
				return fmt.Errorf("failed to remove applist entry %s: %w", entry.Name(), err)
			}
		}
	}
	for i, id := range ids {
		name := fmt.Sprintf("%s/%d.txt", dir, i)
		if err := afero.WriteFile(fs, name, []byte(id+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write applist entry %d: %w", i, err)
		}
	}
	return nil
}
