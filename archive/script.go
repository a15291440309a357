package archive

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

var (
	// addappid(730) -- Counter-Strike 2
	// addappid(731, 1, "a1b2c3") -- CS2 Content
	addAppIDPattern = regexp.MustCompile(`addappid\(\s*(\d+)\s*(?:,\s*\d+\s*,\s*"([^"]*)")?\s*\)\s*(?:--\s*(.*))?`)

	// setManifestid(731, "1118032470228587934", 31757514770)
	setManifestPattern = regexp.MustCompile(`setManifestid\(\s*(\d+)\s*,\s*"(\d+)"\s*(?:,\s*(\d+))?\s*\)`)
)

// scriptEntry is one addappid directive in archive order.
type scriptEntry struct {
	id          string
	key         string
	description string
}

// parsedScript is the raw yield of one manifest script before any
// blacklist filtering or resolver enrichment.
type parsedScript struct {
	appID    string
	gameName string
	entries  []scriptEntry
	sizes    map[string]int64
}

// parseScript reads a manifest script line by line. The first addappid
// directive names the app itself (id plus game name in the trailing
// comment); each later directive is a depot when it carries a quoted
// decryption key, otherwise a DLC.
func parseScript(path string, r io.Reader) (*parsedScript, error) {
	script := &parsedScript{sizes: map[string]int64{}}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := addAppIDPattern.FindStringSubmatch(line); m != nil {
			entry := scriptEntry{
				id:          m[1],
				key:         m[2],
				description: strings.TrimSpace(m[3]),
			}
			if script.appID == "" {
				script.appID = entry.id
				script.gameName = entry.description
			} else {
				script.entries = append(script.entries, entry)
			}
			continue
		}

		if m := setManifestPattern.FindStringSubmatch(line); m != nil {
			if m[3] != "" {
				size, err := strconv.ParseInt(m[3], 10, 64)
				if err == nil {
					script.sizes[m[1]] = size
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, accela.NewParseError(path, "failed to read manifest script: %v", err)
	}
	if script.appID == "" {
		return nil, accela.NewParseError(path, "manifest script has no addappid directives")
	}
	return script, nil
}
