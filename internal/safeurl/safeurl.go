// Package safeurl validates user-supplied playlist and feed addresses
// before the engine fetches them.
package safeurl

import "net/url"

// IsHTTPOrHTTPS reports whether raw parses as a URL with an http or https
// scheme. Playlist and feed URLs come straight off account records, so
// anything else (file, ftp, javascript) is refused before a fetch.
func IsHTTPOrHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return true
	}
	return false
}
