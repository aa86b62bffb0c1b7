package cataloger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/session"
)

// stalkerAdapter speaks the Stalker Portal catalog protocol: get_genres /
// get_categories for the category tree and get_ordered_list with envelope
// pagination for channels and series episodes.
type stalkerAdapter struct {
	svc *Service
}

type stalkerCategory struct {
	ID        flexString `json:"id"`
	Title     string     `json:"title"`
	Alias     string     `json:"alias"`
	ActiveSub bool       `json:"active_sub"`
	Censored  flexInt    `json:"censored"`
}

type stalkerChannel struct {
	ID         flexString        `json:"id"`
	Name       string            `json:"name"`
	OName      string            `json:"o_name"`
	Number     flexString        `json:"number"`
	Cmd        string            `json:"cmd"`
	Cmd1       string            `json:"cmd_1"`
	Cmd2       string            `json:"cmd_2"`
	Cmd3       string            `json:"cmd_3"`
	Logo       string            `json:"logo"`
	Screenshot string            `json:"screenshot_uri"`
	Censored   flexInt           `json:"censored"`
	Status     flexInt           `json:"status"`
	HD         flexInt           `json:"hd"`
	GenreID    flexString        `json:"tv_genre_id"`
	Series     []json.RawMessage `json:"series"`
}

// stalkerPage is the get_ordered_list envelope payload: the row array plus
// the pagination fields that drive the page loop.
type stalkerPage struct {
	TotalItems   flexInt           `json:"total_items"`
	MaxPageItems flexInt           `json:"max_page_items"`
	Data         []json.RawMessage `json:"data"`
}

func (p *stalkerPage) pageCount() int {
	total, per := int(p.TotalItems), int(p.MaxPageItems)
	if total <= 0 || per <= 0 {
		return 1
	}
	return (total + per - 1) / per
}

func (ad *stalkerAdapter) connect(ctx context.Context, a *account.Account) error {
	if err := ad.svc.sessions.Connect(ctx, a); err != nil {
		return err
	}
	if a.IsNotConnected() {
		return fmt.Errorf("account %q: handshake failed", a.Name)
	}
	return nil
}

func (ad *stalkerAdapter) FetchCategories(ctx context.Context, a *account.Account) ([]account.Category, error) {
	if err := ad.connect(ctx, a); err != nil {
		return nil, err
	}
	action := "get_categories"
	if a.Mode == account.ModeLive {
		action = "get_genres"
	}
	body, err := ad.svc.portal.Fetch(ctx, a, url.Values{
		"type":   {string(a.Mode)},
		"action": {action},
	})
	if err != nil {
		return nil, err
	}
	var raw []stalkerCategory
	if err := session.DecodeJS(body, &raw); err != nil {
		return nil, err
	}
	cats := make([]account.Category, 0, len(raw))
	for _, c := range raw {
		cats = append(cats, account.Category{
			AccountID:  a.ID,
			CategoryID: c.ID.String(),
			Title:      c.Title,
			Alias:      c.Alias,
			ActiveSub:  c.ActiveSub,
			Censored:   c.Censored == 1,
		})
	}
	return cats, nil
}

func (ad *stalkerAdapter) FetchChannels(ctx context.Context, a *account.Account, categoryID string) ([]account.Channel, error) {
	if err := ad.connect(ctx, a); err != nil {
		return nil, err
	}
	return ad.fetchOrderedList(ctx, a, categoryID, "", "0")
}

// FetchEpisodes lists one series: the portal takes the parent series as
// movie_id and expands its nested episode arrays.
func (ad *stalkerAdapter) FetchEpisodes(ctx context.Context, a *account.Account, categoryID, seriesID string) ([]account.Channel, error) {
	if err := ad.connect(ctx, a); err != nil {
		return nil, err
	}
	return ad.fetchOrderedList(ctx, a, categoryID, seriesID, "0")
}

// fetchOrderedList pulls every page of a get_ordered_list scope. Page 1
// carries total_items/max_page_items; the remaining pages are fetched
// sequentially with pacing and a cancellation check between pages.
func (ad *stalkerAdapter) fetchOrderedList(ctx context.Context, a *account.Account, categoryID, movieID, seasonID string) ([]account.Channel, error) {
	body, err := ad.svc.portal.Fetch(ctx, a, orderedListParams(a, categoryID, movieID, seasonID, 1))
	if err != nil {
		return nil, err
	}
	var page stalkerPage
	if err := session.DecodeJS(body, &page); err != nil {
		return nil, err
	}
	chans := ad.parsePage(a, &page)
	for p := 2; p <= page.pageCount(); p++ {
		if err := ctx.Err(); err != nil {
			return chans, err
		}
		if err := ad.svc.pace.Wait(ctx); err != nil {
			return chans, err
		}
		body, err := ad.svc.portal.Fetch(ctx, a, orderedListParams(a, categoryID, movieID, seasonID, p))
		if err != nil {
			ad.svc.log.Warn().Err(err).Int("page", p).Msg("ordered list page fetch failed")
			continue
		}
		var next stalkerPage
		if err := session.DecodeJS(body, &next); err != nil {
			ad.svc.log.Warn().Err(err).Int("page", p).Msg("ordered list page parse failed")
			continue
		}
		chans = append(chans, ad.parsePage(a, &next)...)
	}
	return chans, nil
}

func orderedListParams(a *account.Account, categoryID, movieID, seasonID string, page int) url.Values {
	v := url.Values{
		"type":                {string(a.Mode)},
		"action":              {"get_ordered_list"},
		"genre":               {categoryID},
		"force_ch_link_check": {""},
		"fav":                 {"0"},
		"sortby":              {"added"},
		"hd":                  {"1"},
		"p":                   {strconv.Itoa(page)},
		"per_page":            {"999"},
		"max_count":           {"0"},
	}
	if a.Mode == account.ModeSeries {
		if movieID == "" {
			movieID = "0"
		}
		if seasonID == "" {
			seasonID = "0"
		}
		v.Set("movie_id", movieID)
		v.Set("category", categoryID)
		v.Set("season_id", seasonID)
		v.Set("episode_id", "0")
	}
	return v
}

// parsePage maps raw portal rows to channels. Series mode expands each
// parent's nested episode-id array into "Name - Episode k" rows sharing the
// parent cmd; rows that fail to decode are skipped.
func (ad *stalkerAdapter) parsePage(a *account.Account, page *stalkerPage) []account.Channel {
	out := make([]account.Channel, 0, len(page.Data))
	for _, raw := range page.Data {
		var sc stalkerChannel
		if err := json.Unmarshal(raw, &sc); err != nil {
			ad.svc.log.Debug().Err(err).Msg("skipping malformed channel row")
			continue
		}
		name := sc.Name
		if name == "" {
			name = sc.OName
		}
		logo := sc.Logo
		if a.Mode != account.ModeLive && sc.Screenshot != "" {
			logo = sc.Screenshot
		}
		base := account.Channel{
			CategoryID: sc.GenreID.String(),
			Name:       name,
			Number:     atoiSafe(sc.Number.String()),
			Cmd:        sc.Cmd,
			Logo:       logo,
			Censored:   int(sc.Censored),
			Status:     int(sc.Status),
			HD:         int(sc.HD),
		}
		if a.Mode == account.ModeSeries && sc.Cmd != "" && len(sc.Series) > 0 {
			for _, ep := range sc.Series {
				episodeID := decodeSeriesEntry(ep)
				if episodeID == "" {
					continue
				}
				row := base
				row.ChannelID = episodeID
				row.Name = name + " - Episode " + episodeID
				out = append(out, row)
			}
			continue
		}
		row := base
		row.ChannelID = sc.ID.String()
		if a.Mode == account.ModeLive {
			row.Cmd1, row.Cmd2, row.Cmd3 = sc.Cmd1, sc.Cmd2, sc.Cmd3
		}
		out = append(out, row)
	}
	return out
}

// decodeSeriesEntry reads one element of a series array, which portals emit
// as bare numbers or strings.
func decodeSeriesEntry(raw json.RawMessage) string {
	var f flexString
	if err := json.Unmarshal(raw, &f); err != nil {
		return ""
	}
	return f.String()
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
