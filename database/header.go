package database

import "strings"

// headerCDNBase is the Steam asset CDN prefix that header paths are
// resolved against when metadata is read back out of the cache.
const headerCDNBase = "https://shared.akamai.steamstatic.com/store_item_assets/steam/apps/"

// normalizeHeaderPath reduces a full header image URL to the path
// fragment below the CDN's apps/ directory, dropping any query string.
// URLs that do not contain an apps/ segment fall back to the canonical
// "{appid}/header.jpg" location.
func normalizeHeaderPath(url, appID string) string {
	if url == "" {
		return ""
	}
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	if _, after, found := strings.Cut(url, "/apps/"); found && after != "" {
		return after
	}
	return appID + "/header.jpg"
}

// headerURL rebuilds the full CDN URL from a stored header path.
func headerURL(path string) string {
	if path == "" {
		return ""
	}
	return headerCDNBase + path
}
