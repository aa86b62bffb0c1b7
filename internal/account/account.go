// Package account defines the normalized data model shared by the sync,
// playback and watch-state services: accounts, categories, channels (also
// used for VOD items and series episodes) and series watch pointers.
package account

import "strings"

// Type identifies the provider protocol behind an account.
type Type string

const (
	StalkerPortal Type = "STALKER_PORTAL"
	XtremeAPI     Type = "XTREME_API"
	M3U8Local     Type = "M3U8_LOCAL"
	M3U8URL       Type = "M3U8_URL"
	RSSFeed       Type = "RSS_FEED"
)

// Mode is the current browsing mode of an account.
type Mode string

const (
	ModeLive   Mode = "itv"
	ModeVOD    Mode = "vod"
	ModeSeries Mode = "series"
)

// Account is the identity + connection profile for one provider subscription.
// Token is session state only and is never persisted; any edit of the other
// fields invalidates it.
type Account struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Type            Type   `json:"type"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
	URL             string `json:"url,omitempty"`
	MacAddress      string `json:"macAddress,omitempty"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	DeviceID1       string `json:"deviceId1,omitempty"`
	DeviceID2       string `json:"deviceId2,omitempty"`
	Signature       string `json:"signature,omitempty"`
	EPGURL          string `json:"epg,omitempty"`
	M3UPath         string `json:"m3uPath,omitempty"` // local playlist path or playlist URL
	Mode            Mode   `json:"mode"`
	ServerPortalURL string `json:"serverPortalUrl,omitempty"` // lazily discovered, persisted
	PauseCaching    bool   `json:"pauseCaching"`

	Token string `json:"-"` // ephemeral bearer token, Stalker only
}

// IsConnected reports whether the account can issue authenticated provider
// calls. Only Stalker sessions carry state; every other kind is stateless.
func (a *Account) IsConnected() bool {
	if a.Type != StalkerPortal {
		return true
	}
	return strings.TrimSpace(a.Token) != ""
}

// IsNotConnected is the guard callers check before depending on Token.
func (a *Account) IsNotConnected() bool { return !a.IsConnected() }

// UsesPredefinedURL reports whether playback URLs for this account are
// synthesized locally from the channel command (no create_link round-trip).
func (a *Account) UsesPredefinedURL() bool {
	switch a.Type {
	case M3U8Local, M3U8URL, RSSFeed, XtremeAPI:
		return true
	}
	return false
}

// Category is one content grouping scoped to (account, mode).
type Category struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"accountId"`
	CategoryID string `json:"categoryId"` // provider-native id
	Title      string `json:"title"`
	Alias      string `json:"alias,omitempty"`
	ActiveSub  bool   `json:"activeSub"`
	Censored   bool   `json:"censored"`
}

// DRM describes the optional protection descriptor of a playlist channel.
type DRM struct {
	Type             string `json:"type,omitempty"` // e.g. clearkey, com.widevine.alpha
	LicenseURL       string `json:"licenseUrl,omitempty"`
	ClearKeysJSON    string `json:"clearKeys,omitempty"`
	InputstreamAddon string `json:"inputstreamAddon,omitempty"`
	ManifestType     string `json:"manifestType,omitempty"`
}

// Channel is one playable item: a live channel, a VOD entry, a series parent
// or a single series episode. Cmd is the primary playback command; Cmd1..3
// are the alternate candidates used for live fallback.
type Channel struct {
	ID         int64  `json:"id"`
	CategoryID string `json:"categoryId"`
	ChannelID  string `json:"channelId"` // provider-native id
	Name       string `json:"name"`
	Number     int    `json:"number"`
	Cmd        string `json:"cmd,omitempty"`
	Cmd1       string `json:"cmd1,omitempty"`
	Cmd2       string `json:"cmd2,omitempty"`
	Cmd3       string `json:"cmd3,omitempty"`
	Logo       string `json:"logo,omitempty"`
	Censored   int    `json:"censored"`
	Status     int    `json:"status"`
	HD         int    `json:"hd"`
	DRM        *DRM   `json:"drm,omitempty"`

	// Series fields. Season/EpisodeNum may be blank for providers that only
	// encode numbering in the name.
	Season      string `json:"season,omitempty"`
	EpisodeNum  string `json:"episodeNum,omitempty"`
	Description string `json:"description,omitempty"`
	ReleaseDate string `json:"releaseDate,omitempty"`
	Rating      string `json:"rating,omitempty"`
	Duration    string `json:"duration,omitempty"`
}

// Cmds returns the candidate playback commands in declaration order
// (cmd, cmd_1, cmd_2, cmd_3), blanks skipped, duplicates removed.
func (c *Channel) Cmds() []string {
	out := make([]string, 0, 4)
	seen := make(map[string]bool, 4)
	for _, cmd := range []string{c.Cmd, c.Cmd1, c.Cmd2, c.Cmd3} {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" || seen[cmd] {
			continue
		}
		seen[cmd] = true
		out = append(out, cmd)
	}
	return out
}

// BestCmd returns the first non-blank candidate command, or "".
func (c *Channel) BestCmd() string {
	if cmds := c.Cmds(); len(cmds) > 0 {
		return cmds[0]
	}
	return ""
}

// WatchSource records how a watch pointer was written.
type WatchSource string

const (
	WatchAuto   WatchSource = "AUTO"
	WatchManual WatchSource = "MANUAL"
)

// WatchState is the last-watched pointer for one (account, mode, category,
// series) key. Season/EpisodeNum of 0 mean unknown.
type WatchState struct {
	AccountID   int64       `json:"accountId"`
	Mode        Mode        `json:"mode"`
	CategoryID  string      `json:"categoryId"`
	SeriesID    string      `json:"seriesId"`
	EpisodeID   string      `json:"episodeId"`
	EpisodeName string      `json:"episodeName,omitempty"`
	Season      int         `json:"season"`
	EpisodeNum  int         `json:"episodeNum"`
	UpdatedAt   int64       `json:"updatedAt"` // epoch millis
	Source      WatchSource `json:"source"`
}
