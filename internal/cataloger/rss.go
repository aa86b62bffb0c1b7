package cataloger

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/safeurl"
)

// rssAdapter treats a feed as a single-category catalog: one channel per
// item, playable through the item's enclosure (or its link when no enclosure
// is attached).
type rssAdapter struct {
	svc *Service
}

func (ad *rssAdapter) FetchCategories(ctx context.Context, a *account.Account) ([]account.Category, error) {
	return []account.Category{{
		AccountID:  a.ID,
		CategoryID: categoryAll,
		Title:      categoryAll,
		ActiveSub:  true,
	}}, nil
}

func (ad *rssAdapter) FetchChannels(ctx context.Context, a *account.Account, categoryID string) ([]account.Channel, error) {
	src := a.URL
	if strings.TrimSpace(src) == "" {
		src = a.M3UPath
	}
	if !safeurl.IsHTTPOrHTTPS(src) {
		return nil, fmt.Errorf("feed URL %q: scheme not allowed", src)
	}
	parser := gofeed.NewParser()
	parser.Client = ad.svc.http
	feed, err := parser.ParseURLWithContext(src, ctx)
	if err != nil {
		return nil, err
	}
	chans := make([]account.Channel, 0, len(feed.Items))
	for i, item := range feed.Items {
		streamURL := itemStreamURL(item, feed.Link)
		if streamURL == "" {
			continue
		}
		logo := ""
		if item.Image != nil {
			logo = item.Image.URL
		}
		id := item.GUID
		if id == "" {
			id = streamURL
		}
		chans = append(chans, account.Channel{
			CategoryID:  categoryID,
			ChannelID:   id,
			Name:        item.Title,
			Number:      i + 1,
			Cmd:         streamURL,
			Logo:        logo,
			Status:      1,
			Description: item.Description,
			ReleaseDate: item.Published,
		})
	}
	return chans, nil
}

func (ad *rssAdapter) FetchEpisodes(ctx context.Context, a *account.Account, categoryID, seriesID string) ([]account.Channel, error) {
	return nil, nil
}

// itemStreamURL prefers the first enclosure over the item link; relative
// addresses resolve against the feed's own link.
func itemStreamURL(item *gofeed.Item, feedLink string) string {
	raw := item.Link
	for _, enc := range item.Enclosures {
		if enc != nil && strings.TrimSpace(enc.URL) != "" {
			raw = enc.URL
			break
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	base, err := url.Parse(feedLink)
	if err != nil || base.Host == "" {
		return raw
	}
	rel, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(rel).String()
}
