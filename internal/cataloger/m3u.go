package cataloger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/safeurl"
)

const maxLineSize = 1 << 20 // 1 MiB per line

const (
	categoryAll           = "All"
	categoryUncategorized = "Uncategorized"
)

// m3uAdapter serves both playlist kinds: local files and remote URLs. The
// playlist is flat, so categories are synthesized from group-title values.
type m3uAdapter struct {
	svc *Service
}

type m3uEntry struct {
	name  string
	url   string
	tvgID string
	group string
	logo  string
	drm   *account.DRM
}

func (ad *m3uAdapter) FetchCategories(ctx context.Context, a *account.Account) ([]account.Category, error) {
	entries, err := ad.load(ctx, a)
	if err != nil {
		return nil, err
	}
	cats := []account.Category{{
		AccountID:  a.ID,
		CategoryID: categoryAll,
		Title:      categoryAll,
		ActiveSub:  true,
	}}
	seen := map[string]bool{}
	blank := false
	for _, e := range entries {
		if e.group == "" {
			blank = true
			continue
		}
		if !seen[e.group] {
			seen[e.group] = true
			cats = append(cats, account.Category{
				AccountID:  a.ID,
				CategoryID: e.group,
				Title:      e.group,
				ActiveSub:  true,
			})
		}
	}
	if blank {
		cats = append(cats, account.Category{
			AccountID:  a.ID,
			CategoryID: categoryUncategorized,
			Title:      categoryUncategorized,
			ActiveSub:  true,
		})
	}
	return cats, nil
}

func (ad *m3uAdapter) FetchChannels(ctx context.Context, a *account.Account, categoryID string) ([]account.Channel, error) {
	entries, err := ad.load(ctx, a)
	if err != nil {
		return nil, err
	}
	groups := map[string]bool{}
	for _, e := range entries {
		if e.group != "" {
			groups[e.group] = true
		}
	}
	var chans []account.Channel
	for i, e := range entries {
		switch categoryID {
		case categoryAll:
		case categoryUncategorized:
			// The bucket only means anything once real groups exist too.
			if e.group != "" || len(groups) == 0 {
				continue
			}
		default:
			if e.group != categoryID {
				continue
			}
		}
		// tvg-id is the stable EPG identity when the playlist carries one;
		// position is the fallback for bare playlists.
		id := e.tvgID
		if id == "" {
			id = fmt.Sprintf("%d", i+1)
		}
		chans = append(chans, account.Channel{
			CategoryID: categoryID,
			ChannelID:  id,
			Name:       e.name,
			Number:     i + 1,
			Cmd:        e.url,
			Logo:       e.logo,
			Status:     1,
			DRM:        e.drm,
		})
	}
	return chans, nil
}

// FetchEpisodes is a no-op: playlist entries are flat and carry no series
// nesting, so series browsing falls back to the channel list itself.
func (ad *m3uAdapter) FetchEpisodes(ctx context.Context, a *account.Account, categoryID, seriesID string) ([]account.Channel, error) {
	return nil, nil
}

func (ad *m3uAdapter) load(ctx context.Context, a *account.Account) ([]m3uEntry, error) {
	if a.Type == account.M3U8Local {
		f, err := os.Open(a.M3UPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return parsePlaylist(f)
	}
	src := a.M3UPath
	if strings.TrimSpace(src) == "" {
		src = a.URL
	}
	if !safeurl.IsHTTPOrHTTPS(src) {
		return nil, fmt.Errorf("playlist URL %q: scheme not allowed", src)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ad.svc.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("playlist fetch: status %d", resp.StatusCode)
	}
	return parsePlaylist(resp.Body)
}

// parsePlaylist scans EXTINF entries. KODIPROP lines between an EXTINF and
// its URL accumulate into the entry's protection descriptor.
func parsePlaylist(r io.Reader) ([]m3uEntry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	var entries []m3uEntry
	var cur *m3uEntry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			cur = &m3uEntry{
				name:  extinfName(line),
				tvgID: extinfAttr(line, "tvg-id"),
				group: extinfAttr(line, "group-title"),
				logo:  extinfAttr(line, "tvg-logo"),
			}
		case strings.HasPrefix(line, "#KODIPROP:"):
			if cur != nil {
				applyKodiProp(cur, strings.TrimPrefix(line, "#KODIPROP:"))
			}
		case strings.HasPrefix(line, "#"):
			// other directives are ignored
		default:
			if cur != nil {
				cur.url = line
				entries = append(entries, *cur)
				cur = nil
			}
		}
	}
	return entries, sc.Err()
}

func applyKodiProp(e *m3uEntry, prop string) {
	key, val, ok := strings.Cut(prop, "=")
	if !ok {
		return
	}
	key = strings.TrimSpace(key)
	val = strings.TrimSpace(val)
	if e.drm == nil {
		e.drm = &account.DRM{}
	}
	switch key {
	case "inputstreamaddon", "inputstream":
		e.drm.InputstreamAddon = val
	case "inputstream.adaptive.manifest_type":
		e.drm.ManifestType = val
	case "inputstream.adaptive.license_type":
		if strings.Contains(strings.ToLower(val), "clearkey") {
			val = "org.w3.clearkey"
		}
		e.drm.Type = val
	case "inputstream.adaptive.license_key":
		if strings.HasPrefix(val, "{") {
			e.drm.ClearKeysJSON = val
		} else {
			e.drm.LicenseURL = val
		}
	}
}

// extinfName returns the display title after the first comma that is not
// inside a quoted attribute value.
func extinfName(extinf string) string {
	inQuote := false
	for i := 0; i < len(extinf); i++ {
		switch extinf[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				return strings.TrimSpace(extinf[i+1:])
			}
		}
	}
	return strings.TrimSpace(extinf)
}

func extinfAttr(extinf, name string) string {
	prefix := name + `="`
	if i := strings.Index(extinf, prefix); i >= 0 {
		i += len(prefix)
		if j := strings.Index(extinf[i:], `"`); j >= 0 {
			return extinf[i : i+j]
		}
	}
	return ""
}
