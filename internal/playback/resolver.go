package playback

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/session"
)

// WatchTracker receives successful series resolutions. Errors are logged,
// never propagated: watch bookkeeping must not break playback.
type WatchTracker interface {
	OnPlaybackResolved(a *account.Account, ch *account.Channel, parentSeriesID, categoryID string) error
}

// Request identifies what to play. SeriesParam is the episode reference to
// pass to create_link in series mode; ParentSeriesID keys the watch pointer.
type Request struct {
	Channel        *account.Channel
	SeriesParam    string
	ParentSeriesID string
	CategoryID     string
}

// Response is the playable result: the final URL plus the channel's
// protection descriptor for players that need it.
type Response struct {
	URL string       `json:"url"`
	DRM *account.DRM `json:"drm,omitempty"`
}

type Resolver struct {
	sessions *session.Manager
	portal   *session.Client
	watch    WatchTracker
	log      zerolog.Logger
}

func NewResolver(sm *session.Manager, portal *session.Client, watch WatchTracker, log zerolog.Logger) *Resolver {
	return &Resolver{sessions: sm, portal: portal, watch: watch, log: log}
}

// Resolve turns a channel command into a playable URL. Playlist and feed
// accounts play their command directly; Xtream accounts get a freshly
// synthesized panel URL; Stalker accounts negotiate create_link with
// candidate fallback.
func (r *Resolver) Resolve(ctx context.Context, a *account.Account, req Request) (*Response, error) {
	if req.Channel == nil {
		return &Response{}, nil
	}

	var raw string
	switch a.Type {
	case account.XtremeAPI:
		raw = r.xtreamURL(a, req)
	case account.M3U8Local, account.M3U8URL, account.RSSFeed:
		raw = BestChannelCmd(a, req.Channel)
	default:
		raw = r.stalkerURL(ctx, a, req)
	}

	final := NormalizeStreamURL(a, ExtractPlayableURL(raw))
	r.log.Debug().Str("account", a.Name).Str("url", final).Msg("playback url resolved")

	if r.watch != nil {
		if err := r.watch.OnPlaybackResolved(a, req.Channel, req.ParentSeriesID, req.CategoryID); err != nil {
			r.log.Warn().Err(err).Str("account", a.Name).Msg("watch pointer update failed")
		}
	}
	return &Response{URL: final, DRM: req.Channel.DRM}, nil
}

func (r *Resolver) stalkerURL(ctx context.Context, a *account.Account, req Request) string {
	if a.IsNotConnected() {
		if err := r.sessions.Connect(ctx, a); err != nil {
			r.log.Warn().Err(err).Str("account", a.Name).Msg("session connect failed before create_link")
		}
	}
	if a.Mode == account.ModeLive {
		return r.liveURLWithFallback(ctx, a, req)
	}
	return r.createLinkURL(ctx, a, req.SeriesParam, BestChannelCmd(a, req.Channel))
}

// liveURLWithFallback walks the candidate commands in declaration order.
// Each candidate is resolved through create_link; an unusable result is
// first rescued by merging query parameters from the candidates before
// moving on. When nothing works the original command is returned as-is.
func (r *Resolver) liveURLWithFallback(ctx context.Context, a *account.Account, req Request) string {
	candidates := req.Channel.Cmds()
	fallback := BestChannelCmd(a, req.Channel)
	if len(candidates) == 0 && fallback != "" {
		candidates = []string{fallback}
	}

	for _, cmd := range candidates {
		resolved := r.createLinkURL(ctx, a, req.SeriesParam, cmd)
		if isUsableResolvedLiveURL(resolved) {
			return resolved
		}
		rescued := rescueWithCandidates(resolved, candidates)
		if isUsableResolvedLiveURL(rescued) {
			r.log.Debug().Str("account", a.Name).Msg("recovered live url by merging params from alternate cmd")
			return rescued
		}
	}

	r.log.Debug().Str("account", a.Name).Msg("live create_link exhausted, falling back to catalog cmd")
	if fallback == "" {
		return req.Channel.Cmd
	}
	return fallback
}

// createLinkURL asks the portal to mint a stream URL for one command. An
// empty answer earns exactly one token refresh and retry; a second empty
// answer falls back to the original command. The result gets the series
// stream placeholder substituted and missing query params merged back.
func (r *Resolver) createLinkURL(ctx context.Context, a *account.Account, seriesParam, originalCmd string) string {
	if strings.TrimSpace(originalCmd) == "" {
		return originalCmd
	}
	resolved := r.createLink(ctx, a, seriesParam, originalCmd)
	if resolved == "" {
		r.log.Debug().Str("account", a.Name).Msg("create_link empty, refreshing token and retrying once")
		if err := r.sessions.HardTokenRefresh(ctx, a); err != nil {
			r.log.Warn().Err(err).Str("account", a.Name).Msg("token refresh failed")
		}
		resolved = r.createLink(ctx, a, seriesParam, originalCmd)
	}
	if resolved == "" {
		r.log.Debug().Str("account", a.Name).Msg("create_link failed after retry, using catalog cmd")
		return originalCmd
	}
	resolved = normalizeSeriesStreamPlaceholder(resolved, seriesParam)
	return MergeMissingQueryParams(resolved, originalCmd)
}

func (r *Resolver) createLink(ctx context.Context, a *account.Account, seriesParam, cmd string) string {
	linkType := string(a.Mode)
	series := ""
	if a.Mode == account.ModeSeries {
		linkType = string(account.ModeVOD)
		series = seriesParam
	}
	body, err := r.portal.Fetch(ctx, a, url.Values{
		"type":           {linkType},
		"action":         {"create_link"},
		"cmd":            {cmd},
		"series":         {series},
		"forced_storage": {"undefined"},
		"disable_ad":     {"0"},
		"download":       {"0"},
	})
	if err != nil {
		r.log.Warn().Err(err).Str("account", a.Name).Msg("create_link request failed")
		return ""
	}
	return parseCreateLink(body)
}

// parseCreateLink accepts the three envelope shapes portals use: js.cmd,
// js.url, and a bare top-level cmd.
func parseCreateLink(body []byte) string {
	var env struct {
		JS *struct {
			Cmd string `json:"cmd"`
			URL string `json:"url"`
		} `json:"js"`
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if env.JS != nil {
		if strings.TrimSpace(env.JS.Cmd) != "" {
			return env.JS.Cmd
		}
		if strings.TrimSpace(env.JS.URL) != "" {
			return env.JS.URL
		}
	}
	return strings.TrimSpace(env.Cmd)
}

func isUsableResolvedLiveURL(u string) bool {
	v := strings.ToLower(strings.TrimSpace(u))
	if v == "" {
		return false
	}
	v = strings.TrimSpace(strings.TrimPrefix(v, "ffmpeg "))
	return !strings.Contains(v, "stream=&")
}

// rescueWithCandidates patches an unusable resolved URL by merging missing
// query parameters from each candidate command until one combination works.
func rescueWithCandidates(resolved string, candidates []string) string {
	if strings.TrimSpace(resolved) == "" || len(candidates) == 0 {
		return resolved
	}
	fixed := resolved
	for _, c := range candidates {
		fixed = MergeMissingQueryParams(fixed, c)
		if isUsableResolvedLiveURL(fixed) {
			return fixed
		}
	}
	return fixed
}

// xtreamURL synthesizes the panel stream address from account credentials
// and the channel id, inheriting the container extension of the catalog
// command when it has one.
func (r *Resolver) xtreamURL(a *account.Account, req Request) string {
	fallback := BestChannelCmd(a, req.Channel)
	base := strings.TrimSpace(a.URL)
	if base == "" {
		base = strings.TrimSpace(a.M3UPath)
	}
	if base == "" {
		return fallback
	}
	if i := strings.Index(base, "player_api.php"); i >= 0 {
		base = base[:i]
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	id := strings.TrimSpace(req.Channel.ChannelID)
	if a.Username == "" || a.Password == "" || id == "" {
		return fallback
	}

	ext := InferExtensionFromCmd(fallback)
	segment := "live"
	switch {
	case strings.TrimSpace(req.ParentSeriesID) != "" || a.Mode == account.ModeSeries:
		segment = "series"
		if ext == "" {
			ext = "mp4"
		}
	case a.Mode == account.ModeVOD:
		segment = "movie"
		if ext == "" {
			ext = "mp4"
		}
	default:
		if ext == "" {
			ext = "ts"
		}
	}
	return base + segment + "/" + a.Username + "/" + a.Password + "/" + id + "." + ext
}
