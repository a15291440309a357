package accela

import (
	"regexp"
	"strings"
)

var folderNameStrip = regexp.MustCompile(`[^\w\s-]`)

// SanitizeFolderName reduces a game name to something safe for a
// filesystem path: non-word characters stripped, surrounding whitespace
// trimmed, interior spaces replaced with underscores.
func SanitizeFolderName(name string) string {
	s := folderNameStrip.ReplaceAllString(name, "")
	s = strings.TrimSpace(s)
	return strings.ReplaceAll(s, " ", "_")
}
