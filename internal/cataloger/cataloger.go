// Package cataloger fetches and normalizes categories, channels and series
// episodes from the four provider kinds (Stalker Portal, Xtream panels, M3U
// playlists, RSS feeds), applies content filtering, and writes through the
// SQLite cache with the per-mode freshness rules.
package cataloger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/httpclient"
	"github.com/uiptv/uiptv/internal/session"
	"github.com/uiptv/uiptv/internal/store"
)

// Categories for VOD/series are reloaded monthly; live categories have no
// TTL and reload only when the cache is empty.
const DefaultCategoryTTL = 30 * 24 * time.Hour

// Options tunes caching and content filtering. Zero values mean: no
// filtering, 30-day category TTL, 12-hour episode TTL.
type Options struct {
	FilterChannels   string // comma-separated blocklist matched against channel names
	FilterCategories string // comma-separated blocklist matched against category titles
	PauseFiltering   bool   // disables both blocklists and the censored flag
	PauseCaching     bool   // forces a provider reload on every channel read
	CategoryTTL      time.Duration
	EpisodeTTL       time.Duration
}

func (o *Options) categoryTTL() time.Duration {
	if o.CategoryTTL <= 0 {
		return DefaultCategoryTTL
	}
	return o.CategoryTTL
}

func (o *Options) episodeTTL() time.Duration {
	if o.EpisodeTTL <= 0 {
		return 12 * time.Hour
	}
	return o.EpisodeTTL
}

// Adapter is the per-provider fetch contract. One implementation per account
// kind; the service owns caching, filtering and sorting around it.
type Adapter interface {
	FetchCategories(ctx context.Context, a *account.Account) ([]account.Category, error)
	FetchChannels(ctx context.Context, a *account.Account, categoryID string) ([]account.Channel, error)
	FetchEpisodes(ctx context.Context, a *account.Account, categoryID, seriesID string) ([]account.Channel, error)
}

// Service is the catalog sync engine. Provider fetch failures degrade to
// empty results with logging; cache write failures propagate.
type Service struct {
	store    *store.Store
	sessions *session.Manager
	portal   *session.Client
	http     *http.Client
	opts     Options
	log      zerolog.Logger
	group    singleflight.Group
	pace     *rate.Limiter // spacing between paginated provider fetches
}

func New(st *store.Store, sm *session.Manager, portal *session.Client, hc *http.Client, opts Options, log zerolog.Logger) *Service {
	if hc == nil {
		hc = httpclient.Default()
	}
	return &Service{
		store:    st,
		sessions: sm,
		portal:   portal,
		http:     hc,
		opts:     opts,
		log:      log,
		pace:     rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

func (s *Service) adapterFor(a *account.Account) Adapter {
	switch a.Type {
	case account.XtremeAPI:
		return &xtreamAdapter{svc: s}
	case account.M3U8Local, account.M3U8URL:
		return &m3uAdapter{svc: s}
	case account.RSSFeed:
		return &rssAdapter{svc: s}
	default:
		return &stalkerAdapter{svc: s}
	}
}

// Categories returns the category list for the account's current mode,
// reloading from the provider according to the per-mode cache policy:
// RSS always reloads; Stalker/Xtream VOD and series categories honor the
// monthly TTL; live categories reload only when the cache is empty.
func (s *Service) Categories(ctx context.Context, a *account.Account) ([]account.Category, error) {
	adapter := s.adapterFor(a)

	if a.Type == account.RSSFeed {
		s.hardReloadCategories(ctx, a, adapter)
		cats, err := s.store.Categories(ctx, a.ID, a.Mode)
		if err != nil {
			return nil, err
		}
		return s.filterCategories(cats), nil
	}

	sessionBacked := a.Type == account.StalkerPortal || a.Type == account.XtremeAPI
	if sessionBacked && (a.Mode == account.ModeVOD || a.Mode == account.ModeSeries) {
		cached, err := s.store.Categories(ctx, a.ID, a.Mode)
		if err != nil {
			return nil, err
		}
		if len(cached) > 0 {
			ts, err := s.store.CategoriesCachedAt(ctx, a.ID, a.Mode)
			if err != nil {
				return nil, err
			}
			if store.Fresh(ts, s.opts.categoryTTL(), time.Now()) {
				return s.filterCategories(cached), nil
			}
		}
		fetched, err := adapter.FetchCategories(ctx, a)
		if err != nil {
			s.log.Warn().Err(err).Str("account", a.Name).Msg("category fetch failed")
			return s.filterCategories(cached), nil
		}
		if len(fetched) > 0 {
			if err := s.store.ReplaceCategories(ctx, a.ID, a.Mode, fetched); err != nil {
				return nil, err
			}
			stored, err := s.store.Categories(ctx, a.ID, a.Mode)
			if err != nil {
				return nil, err
			}
			return s.filterCategories(stored), nil
		}
		return s.filterCategories(cached), nil
	}

	cached, err := s.store.Categories(ctx, a.ID, a.Mode)
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 || a.Mode != account.ModeLive {
		s.hardReloadCategories(ctx, a, adapter)
		cached, err = s.store.Categories(ctx, a.ID, a.Mode)
		if err != nil {
			return nil, err
		}
	}
	return s.filterCategories(cached), nil
}

func (s *Service) hardReloadCategories(ctx context.Context, a *account.Account, adapter Adapter) {
	key := fmt.Sprintf("cats:%d:%s", a.ID, a.Mode)
	_, err, _ := s.group.Do(key, func() (any, error) {
		cats, err := adapter.FetchCategories(ctx, a)
		if err != nil {
			s.log.Warn().Err(err).Str("account", a.Name).Msg("category fetch failed")
			return nil, nil
		}
		return nil, s.store.ReplaceCategories(ctx, a.ID, a.Mode, cats)
	})
	if err != nil {
		s.log.Error().Err(err).Str("account", a.Name).Msg("category cache write failed")
	}
}

// CategoryKey returns the identifier used both to fetch a category's
// channels from the provider and to scope their cache rows. Session-backed
// providers key by the provider-native id; playlist kinds key by title.
func CategoryKey(a *account.Account, c account.Category) string {
	if a.Type == account.StalkerPortal || a.Type == account.XtremeAPI {
		return c.CategoryID
	}
	return c.Title
}

// Channels returns the channel list for one category: cached rows unless the
// scope is empty or caching is paused (account-level or globally), in which
// case the provider is re-fetched and the scope replaced. Concurrent reloads
// of the same scope coalesce.
func (s *Service) Channels(ctx context.Context, a *account.Account, categoryKey string) ([]account.Channel, error) {
	cached, err := s.store.Channels(ctx, a.ID, a.Mode, categoryKey)
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 || a.PauseCaching || s.opts.PauseCaching {
		key := fmt.Sprintf("chans:%d:%s:%s", a.ID, a.Mode, categoryKey)
		_, err, _ := s.group.Do(key, func() (any, error) {
			chans, err := s.adapterFor(a).FetchChannels(ctx, a, categoryKey)
			if err != nil {
				s.log.Warn().Err(err).Str("account", a.Name).Str("category", categoryKey).Msg("channel fetch failed")
				return nil, nil
			}
			if a.Mode != account.ModeLive {
				sortBySeasonEpisode(chans)
			}
			return nil, s.store.ReplaceChannels(ctx, a.ID, a.Mode, categoryKey, chans)
		})
		if err != nil {
			return nil, err
		}
		cached, err = s.store.Channels(ctx, a.ID, a.Mode, categoryKey)
		if err != nil {
			return nil, err
		}
	}
	return s.filterChannels(cached), nil
}

// SeriesEpisodes returns the episode list for one series, cached per
// (account, category, series) with the configured TTL so the same series
// browsed under two categories keeps independent caches.
func (s *Service) SeriesEpisodes(ctx context.Context, a *account.Account, categoryID, seriesID string) ([]account.Channel, error) {
	if seriesID == "" {
		return nil, nil
	}
	cached, err := s.store.Episodes(ctx, a.ID, categoryID, seriesID)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		ts, err := s.store.EpisodesCachedAt(ctx, a.ID, categoryID, seriesID)
		if err != nil {
			return nil, err
		}
		if store.Fresh(ts, s.opts.episodeTTL(), time.Now()) {
			return s.filterChannels(cached), nil
		}
	}
	key := fmt.Sprintf("eps:%d:%s:%s", a.ID, categoryID, seriesID)
	_, err, _ = s.group.Do(key, func() (any, error) {
		eps, err := s.adapterFor(a).FetchEpisodes(ctx, a, categoryID, seriesID)
		if err != nil {
			s.log.Warn().Err(err).Str("account", a.Name).Str("series", seriesID).Msg("episode fetch failed")
			return nil, nil
		}
		if len(eps) == 0 {
			return nil, nil
		}
		return nil, s.store.ReplaceEpisodes(ctx, a.ID, categoryID, seriesID, eps)
	})
	if err != nil {
		return nil, err
	}
	stored, err := s.store.Episodes(ctx, a.ID, categoryID, seriesID)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return s.filterChannels(cached), nil
	}
	return s.filterChannels(stored), nil
}
