// Package watch maintains the per-series last-watched pointer: playback
// resolutions advance it monotonically, manual marks always win, and
// registered listeners hear about every change.
package watch

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/store"
)

// Listener is notified after a watch pointer changes. Listeners run
// synchronously on the writing goroutine; panics are recovered so a bad
// listener cannot break the write.
type Listener func(accountID int64, seriesID string)

type Tracker struct {
	store *store.Store
	log   zerolog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

func NewTracker(st *store.Store, log zerolog.Logger) *Tracker {
	return &Tracker{store: st, log: log}
}

func (t *Tracker) AddListener(l Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// LastWatched returns the pointer for the exact (account, category, series)
// key, falling back to the most recent pointer for the series under any
// category when clients resolve the category differently.
func (t *Tracker) LastWatched(accountID int64, categoryID, seriesID string) (*account.WatchState, error) {
	if seriesID == "" {
		return nil, nil
	}
	exact, err := t.store.WatchState(accountID, account.ModeSeries, strings.TrimSpace(categoryID), seriesID)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		return exact, nil
	}
	return t.store.WatchStateAnyCategory(accountID, account.ModeSeries, seriesID)
}

// ByAccount returns every series pointer for one account, most recent first.
func (t *Tracker) ByAccount(accountID int64) ([]account.WatchState, error) {
	return t.store.WatchStatesByAccount(accountID)
}

func (t *Tracker) Clear(accountID int64, categoryID, seriesID string) error {
	if seriesID == "" {
		return nil
	}
	if err := t.store.DeleteWatchState(accountID, account.ModeSeries, strings.TrimSpace(categoryID), seriesID); err != nil {
		return err
	}
	t.notify(accountID, seriesID)
	return nil
}

func (t *Tracker) ClearAccount(accountID int64) error {
	if err := t.store.DeleteWatchStatesByAccount(accountID); err != nil {
		return err
	}
	t.notify(accountID, "")
	return nil
}

// MarkManual overwrites the pointer unconditionally: an explicit user action
// beats the monotonic rule.
func (t *Tracker) MarkManual(a *account.Account, categoryID, seriesID, episodeID, episodeName, season, episodeNum string) error {
	if a == nil || a.ID == 0 || seriesID == "" || episodeID == "" {
		return nil
	}
	return t.upsert(a.ID, strings.TrimSpace(categoryID), seriesID, episodeID, episodeName, season,
		ParseEpisodeNum(episodeNum, episodeName), account.WatchManual)
}

// MarkManualIfNewer writes a manual pointer only when it moves forward,
// used by bulk imports that replay history out of order.
func (t *Tracker) MarkManualIfNewer(a *account.Account, categoryID, seriesID, episodeID, episodeName, season, episodeNum string) error {
	if a == nil || a.ID == 0 || seriesID == "" || episodeID == "" {
		return nil
	}
	categoryID = strings.TrimSpace(categoryID)
	nextEpisode := ParseEpisodeNum(episodeNum, episodeName)
	nextSeason := ParseSeasonNum(season, episodeName)
	existing, err := t.store.WatchState(a.ID, account.ModeSeries, categoryID, seriesID)
	if err != nil {
		return err
	}
	if existing == nil {
		return t.upsert(a.ID, categoryID, seriesID, episodeID, episodeName, season, nextEpisode, account.WatchManual)
	}
	if nextEpisode <= 0 && nextSeason <= 0 {
		return nil
	}
	curSeason := existing.Season
	if curSeason <= 0 {
		curSeason = ParseSeasonNum("", existing.EpisodeName)
	}
	if ShouldAdvance(curSeason, existing.EpisodeNum, nextSeason, nextEpisode) {
		return t.upsert(a.ID, categoryID, seriesID, episodeID, episodeName, season, nextEpisode, account.WatchManual)
	}
	return nil
}

// MatchesEpisode reports whether a catalog row is the episode the pointer
// currently marks, comparing ids first and the numbering when known.
func (t *Tracker) MatchesEpisode(ws *account.WatchState, episodeID, season, episodeNum, episodeName string) bool {
	if ws == nil || ws.EpisodeID == "" || strings.TrimSpace(episodeID) == "" {
		return false
	}
	if strings.TrimSpace(ws.EpisodeID) != strings.TrimSpace(episodeID) {
		return false
	}
	if ws.Season > 0 {
		if s := ParseSeasonNum(season, episodeName); s != ws.Season {
			return false
		}
	}
	if ws.EpisodeNum > 0 {
		if e := ParseEpisodeNum(episodeNum, episodeName); e != ws.EpisodeNum {
			return false
		}
	}
	return true
}

// OnPlaybackResolved advances the pointer after a successful series playback
// resolution. First resolution always writes; later ones only when the
// episode numbering moves forward. A pointer keyed to its own episode id is
// rejected, which happens when callers pass the episode as the parent.
func (t *Tracker) OnPlaybackResolved(a *account.Account, ch *account.Channel, parentSeriesID, categoryID string) error {
	if a == nil || ch == nil || a.Mode != account.ModeSeries || a.ID == 0 {
		return nil
	}
	seriesID := strings.TrimSpace(parentSeriesID)
	episodeID := strings.TrimSpace(ch.ChannelID)
	if seriesID == "" || episodeID == "" || seriesID == episodeID {
		return nil
	}
	categoryID = strings.TrimSpace(categoryID)

	nextEpisode := ParseEpisodeNum(ch.EpisodeNum, ch.Name)
	nextSeason := ParseSeasonNum(ch.Season, ch.Name)
	existing, err := t.store.WatchState(a.ID, account.ModeSeries, categoryID, seriesID)
	if err != nil {
		return err
	}
	if existing == nil {
		return t.upsert(a.ID, categoryID, seriesID, episodeID, ch.Name, ch.Season, nextEpisode, account.WatchAuto)
	}
	if nextEpisode <= 0 && nextSeason <= 0 {
		return nil
	}
	curSeason := existing.Season
	if curSeason <= 0 {
		curSeason = ParseSeasonNum("", existing.EpisodeName)
	}
	if ShouldAdvance(curSeason, existing.EpisodeNum, nextSeason, nextEpisode) {
		return t.upsert(a.ID, categoryID, seriesID, episodeID, ch.Name, ch.Season, nextEpisode, account.WatchAuto)
	}
	return nil
}

func (t *Tracker) upsert(accountID int64, categoryID, seriesID, episodeID, episodeName, season string, episodeNum int, source account.WatchSource) error {
	if episodeNum <= 0 {
		episodeNum = ParseEpisodeNum("", episodeName)
	}
	ws := &account.WatchState{
		AccountID:   accountID,
		Mode:        account.ModeSeries,
		CategoryID:  categoryID,
		SeriesID:    seriesID,
		EpisodeID:   episodeID,
		EpisodeName: episodeName,
		Season:      ParseSeasonNum(season, episodeName),
		EpisodeNum:  episodeNum,
		UpdatedAt:   time.Now().UnixMilli(),
		Source:      source,
	}
	if err := t.store.SaveWatchState(ws); err != nil {
		return err
	}
	t.notify(accountID, seriesID)
	return nil
}

func (t *Tracker) notify(accountID int64, seriesID string) {
	t.mu.RLock()
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.RUnlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.log.Error().Interface("panic", r).Msg("watch listener panicked")
				}
			}()
			l(accountID, seriesID)
		}()
	}
}
