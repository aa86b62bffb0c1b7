package cataloger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/httpclient"
)

// xtreamAdapter talks to Xtream-codes style panels through player_api.php.
// Accounts may carry the panel address in either the playlist field or the
// portal URL field, so both are tried as base candidates.
type xtreamAdapter struct {
	svc *Service
}

type xtreamCategory struct {
	ID   flexString `json:"category_id"`
	Name string     `json:"category_name"`
}

type xtreamStream struct {
	StreamID    flexString `json:"stream_id"`
	SeriesID    flexString `json:"series_id"`
	Num         flexInt    `json:"num"`
	Name        string     `json:"name"`
	StreamIcon  string     `json:"stream_icon"`
	Cover       string     `json:"cover"`
	ContainerEx string     `json:"container_extension"`
	Plot        string     `json:"plot"`
	ReleaseDate string     `json:"releaseDate"`
	Rating      flexString `json:"rating"`
}

type xtreamEpisodeInfo struct {
	MovieImage  string     `json:"movie_image"`
	Plot        string     `json:"plot"`
	ReleaseDate string     `json:"releasedate"`
	Rating      flexString `json:"rating"`
	Duration    string     `json:"duration"`
}

type xtreamEpisode struct {
	ID          flexString        `json:"id"`
	EpisodeNum  flexInt           `json:"episode_num"`
	Title       string            `json:"title"`
	ContainerEx string            `json:"container_extension"`
	Season      flexInt           `json:"season"`
	Info        xtreamEpisodeInfo `json:"info"`
}

type xtreamSeriesInfo struct {
	Episodes map[string][]xtreamEpisode `json:"episodes"`
}

func (ad *xtreamAdapter) FetchCategories(ctx context.Context, a *account.Account) ([]account.Category, error) {
	action := map[account.Mode]string{
		account.ModeLive:   "get_live_categories",
		account.ModeVOD:    "get_vod_categories",
		account.ModeSeries: "get_series_categories",
	}[a.Mode]
	var raw []xtreamCategory
	if err := ad.fetch(ctx, a, action, nil, &raw); err != nil {
		return nil, err
	}
	cats := make([]account.Category, 0, len(raw))
	for _, c := range raw {
		cats = append(cats, account.Category{
			AccountID:  a.ID,
			CategoryID: c.ID.String(),
			Title:      c.Name,
			ActiveSub:  true,
		})
	}
	return cats, nil
}

func (ad *xtreamAdapter) FetchChannels(ctx context.Context, a *account.Account, categoryID string) ([]account.Channel, error) {
	action := map[account.Mode]string{
		account.ModeLive:   "get_live_streams",
		account.ModeVOD:    "get_vod_streams",
		account.ModeSeries: "get_series",
	}[a.Mode]
	var raw []xtreamStream
	if err := ad.fetch(ctx, a, action, url.Values{"category_id": {categoryID}}, &raw); err != nil {
		return nil, err
	}
	chans := make([]account.Channel, 0, len(raw))
	for _, st := range raw {
		id := st.StreamID.String()
		logo := st.StreamIcon
		if a.Mode == account.ModeSeries {
			id = st.SeriesID.String()
			logo = st.Cover
		}
		if id == "" {
			continue
		}
		chans = append(chans, account.Channel{
			CategoryID:  categoryID,
			ChannelID:   id,
			Name:        st.Name,
			Number:      int(st.Num),
			Cmd:         ad.streamURL(a, a.Mode, id, st.ContainerEx),
			Logo:        logo,
			Status:      1,
			Description: st.Plot,
			ReleaseDate: st.ReleaseDate,
			Rating:      st.Rating.String(),
		})
	}
	return chans, nil
}

func (ad *xtreamAdapter) FetchEpisodes(ctx context.Context, a *account.Account, categoryID, seriesID string) ([]account.Channel, error) {
	var info xtreamSeriesInfo
	if err := ad.fetch(ctx, a, "get_series_info", url.Values{"series_id": {seriesID}}, &info); err != nil {
		return nil, err
	}
	var eps []account.Channel
	for season, list := range info.Episodes {
		for _, ep := range list {
			id := ep.ID.String()
			if id == "" {
				continue
			}
			name := ep.Title
			if name == "" {
				name = fmt.Sprintf("Episode %d", int(ep.EpisodeNum))
			}
			seasonStr := season
			if ep.Season > 0 {
				seasonStr = fmt.Sprintf("%d", int(ep.Season))
			}
			eps = append(eps, account.Channel{
				CategoryID:  categoryID,
				ChannelID:   id,
				Name:        name,
				Number:      int(ep.EpisodeNum),
				Cmd:         ad.streamURL(a, account.ModeSeries, id, ep.ContainerEx),
				Logo:        ep.Info.MovieImage,
				Status:      1,
				Season:      seasonStr,
				EpisodeNum:  fmt.Sprintf("%d", int(ep.EpisodeNum)),
				Description: ep.Info.Plot,
				ReleaseDate: ep.Info.ReleaseDate,
				Rating:      ep.Info.Rating.String(),
				Duration:    ep.Info.Duration,
			})
		}
	}
	sort.SliceStable(eps, func(i, j int) bool {
		si, sj := atoiSafe(eps[i].Season), atoiSafe(eps[j].Season)
		if si != sj {
			return si < sj
		}
		return atoiSafe(eps[i].EpisodeNum) < atoiSafe(eps[j].EpisodeNum)
	})
	return eps, nil
}

// streamURL synthesizes the direct stream address the panel serves content
// under. Live catalog rows carry no type segment and no extension; VOD and
// series rows get their container extension (mp4 when the panel omits it).
func (ad *xtreamAdapter) streamURL(a *account.Account, mode account.Mode, id, ext string) string {
	base := firstBaseCandidate(a)
	creds := url.PathEscape(a.Username) + "/" + url.PathEscape(a.Password) + "/"
	switch mode {
	case account.ModeVOD:
		return base + "movie/" + creds + id + "." + orDefault(ext, "mp4")
	case account.ModeSeries:
		return base + "series/" + creds + id + "." + orDefault(ext, "mp4")
	default:
		return base + creds + id
	}
}

// fetch calls player_api.php on each base candidate until one answers with
// something other than 404. Panel 429/5xx hiccups are retried once.
func (ad *xtreamAdapter) fetch(ctx context.Context, a *account.Account, action string, extra url.Values, out any) error {
	bases := baseCandidates(a)
	if len(bases) == 0 {
		return fmt.Errorf("account %q: no panel URL configured", a.Name)
	}
	var lastErr error
	for i, base := range bases {
		q := url.Values{
			"username": {a.Username},
			"password": {a.Password},
			"action":   {action},
		}
		for k, vs := range extra {
			q[k] = vs
		}
		reqURL := base + "player_api.php?" + q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		resp, err := httpclient.DoWithRetry(ctx, ad.svc.http, req, httpclient.DefaultRetryPolicy)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusNotFound && i < len(bases)-1 {
			ad.svc.log.Debug().Str("base", base).Msg("player_api not found, trying next candidate")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("player_api %s: status %d", action, resp.StatusCode)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("player_api %s: %w", action, err)
		}
		return nil
	}
	return lastErr
}

// baseCandidates lists the normalized panel addresses to probe, playlist
// field first. Entries already pointing at player_api.php are stripped back
// to their directory.
func baseCandidates(a *account.Account) []string {
	var out []string
	for _, raw := range []string{a.M3UPath, a.URL} {
		if b := normalizeBaseURL(raw); b != "" && !contains(out, b) {
			out = append(out, b)
		}
	}
	return out
}

func firstBaseCandidate(a *account.Account) string {
	if bases := baseCandidates(a); len(bases) > 0 {
		return bases[0]
	}
	return ""
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if i := strings.Index(raw, "player_api.php"); i >= 0 {
		raw = raw[:i]
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
