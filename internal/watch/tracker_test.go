package watch

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/store"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "uiptv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewTracker(st, zerolog.Nop())
}

func seriesAccount() *account.Account {
	return &account.Account{ID: 1, Name: "acc", Type: account.StalkerPortal, Mode: account.ModeSeries}
}

func episode(id, name, num string) *account.Channel {
	return &account.Channel{ChannelID: id, Name: name, EpisodeNum: num}
}

func TestPlaybackAdvancesForwardOnly(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-2", "Episode 2", "2"), "series-1", ""))
	ws, err := tr.LastWatched(a.ID, "", "series-1")
	require.NoError(t, err)
	require.NotNil(t, ws)
	require.Equal(t, "ep-2", ws.EpisodeID)
	require.Equal(t, 2, ws.EpisodeNum)
	require.Equal(t, account.WatchAuto, ws.Source)

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-1", "Episode 1", "1"), "series-1", ""))
	ws, err = tr.LastWatched(a.ID, "", "series-1")
	require.NoError(t, err)
	require.Equal(t, "ep-2", ws.EpisodeID, "pointer must not regress on a lower episode")

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-3", "Episode 3", "3"), "series-1", ""))
	ws, err = tr.LastWatched(a.ID, "", "series-1")
	require.NoError(t, err)
	require.Equal(t, "ep-3", ws.EpisodeID)
	require.Equal(t, 3, ws.EpisodeNum)
}

func TestFirstPlaybackAlwaysWritesEvenWithoutNumbers(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-x", "Special", ""), "series-9", ""))
	ws, err := tr.LastWatched(a.ID, "", "series-9")
	require.NoError(t, err)
	require.NotNil(t, ws)
	require.Equal(t, "ep-x", ws.EpisodeID)
}

func TestManualMarkOverridesAndClearRemoves(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-3", "Episode 3", "3"), "series-2", ""))
	require.NoError(t, tr.MarkManual(a, "", "series-2", "ep-1", "Episode 1", "1", "1"))

	ws, err := tr.LastWatched(a.ID, "", "series-2")
	require.NoError(t, err)
	require.Equal(t, "ep-1", ws.EpisodeID)
	require.Equal(t, 1, ws.EpisodeNum)
	require.Equal(t, account.WatchManual, ws.Source)

	require.NoError(t, tr.Clear(a.ID, "", "series-2"))
	ws, err = tr.LastWatched(a.ID, "", "series-2")
	require.NoError(t, err)
	require.Nil(t, ws)
}

func TestSameSeriesScopedByCategory(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-a2", "Episode 2", "2"), "series-dup", "cat-a"))
	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-b3", "Episode 3", "3"), "series-dup", "cat-b"))

	catA, err := tr.LastWatched(a.ID, "cat-a", "series-dup")
	require.NoError(t, err)
	require.Equal(t, "ep-a2", catA.EpisodeID)
	catB, err := tr.LastWatched(a.ID, "cat-b", "series-dup")
	require.NoError(t, err)
	require.Equal(t, "ep-b3", catB.EpisodeID)
}

func TestLastWatchedFallsBackAcrossCategories(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-4", "Episode 4", "4"), "series-fb", "portal-cat-201"))
	ws, err := tr.LastWatched(a.ID, "db-cat-999", "series-fb")
	require.NoError(t, err)
	require.NotNil(t, ws)
	require.Equal(t, "ep-4", ws.EpisodeID)
}

func TestSeriesPointerNeverKeyedToEpisodeID(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-7", "Episode 7", "7"), "ep-7", ""))
	ws, err := tr.LastWatched(a.ID, "", "ep-7")
	require.NoError(t, err)
	require.Nil(t, ws, "series id equal to episode id must be rejected")
}

func TestNonSeriesModeIgnored(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()
	a.Mode = account.ModeLive

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-1", "Episode 1", "1"), "series-1", ""))
	ws, err := tr.LastWatched(a.ID, "", "series-1")
	require.NoError(t, err)
	require.Nil(t, ws)
}

func TestSeasonInferredFromTitle(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	ch := &account.Channel{ChannelID: "episode-15", Name: "S03E15 - Finale", EpisodeNum: "15"}
	require.NoError(t, tr.OnPlaybackResolved(a, ch, "series-3", "cat-1"))

	ws, err := tr.LastWatched(a.ID, "cat-1", "series-3")
	require.NoError(t, err)
	require.Equal(t, 3, ws.Season)
	require.Equal(t, 15, ws.EpisodeNum)
}

func TestSeasonChangeAdvancesEvenWithLowerEpisode(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	s2 := &account.Channel{ChannelID: "s2e9", Name: "Show S02E09", Season: "2", EpisodeNum: "9"}
	require.NoError(t, tr.OnPlaybackResolved(a, s2, "series-5", ""))
	s3 := &account.Channel{ChannelID: "s3e1", Name: "Show S03E01", Season: "3", EpisodeNum: "1"}
	require.NoError(t, tr.OnPlaybackResolved(a, s3, "series-5", ""))

	ws, err := tr.LastWatched(a.ID, "", "series-5")
	require.NoError(t, err)
	require.Equal(t, "s3e1", ws.EpisodeID)
	require.Equal(t, 3, ws.Season)
}

func TestMatchesEpisodeIsSeasonAware(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	require.NoError(t, tr.MarkManual(a, "cat-1", "series-1", "episode-10", "Season 2 Episode 10", "2", "10"))
	ws, err := tr.LastWatched(a.ID, "cat-1", "series-1")
	require.NoError(t, err)

	require.True(t, tr.MatchesEpisode(ws, "episode-10", "2", "10", "Season 2 Episode 10"))
	require.False(t, tr.MatchesEpisode(ws, "episode-10", "1", "10", "Season 1 Episode 10"))
}

func TestListenersRunAndPanicsAreContained(t *testing.T) {
	tr := newTestTracker(t)
	a := seriesAccount()

	var notified []string
	tr.AddListener(func(accountID int64, seriesID string) {
		panic("broken listener")
	})
	tr.AddListener(func(accountID int64, seriesID string) {
		notified = append(notified, seriesID)
	})

	require.NoError(t, tr.OnPlaybackResolved(a, episode("ep-1", "Episode 1", "1"), "series-1", ""))
	require.Equal(t, []string{"series-1"}, notified)
}

func TestParseNumbers(t *testing.T) {
	require.Equal(t, 15, ParseEpisodeNum("", "S03E15 - Finale"))
	require.Equal(t, 7, ParseEpisodeNum("", "Episode 7"))
	require.Equal(t, 9, ParseEpisodeNum("09", "anything"))
	require.Equal(t, 0, ParseEpisodeNum("", "Just a title"))

	require.Equal(t, 3, ParseSeasonNum("", "S03E15"))
	require.Equal(t, 2, ParseSeasonNum("", "Season 2 finale"))
	require.Equal(t, 4, ParseSeasonNum("", "4x12 something"))
	require.Equal(t, 5, ParseSeasonNum("5", ""))
	require.Equal(t, 0, ParseSeasonNum("", "no numbering"))
}

func TestShouldAdvance(t *testing.T) {
	for _, tt := range []struct {
		name                     string
		curS, curE, nextS, nextE int
		want                     bool
	}{
		{"higher season wins", 2, 9, 3, 1, true},
		{"lower season never", 3, 1, 2, 99, false},
		{"same season higher episode", 2, 3, 2, 4, true},
		{"same season lower episode", 2, 4, 2, 3, false},
		{"same season unknown next episode", 2, 4, 2, 0, false},
		{"episode only advance", 0, 3, 0, 4, true},
		{"episode only regress", 0, 4, 0, 3, false},
		{"unknown current episode", 0, 0, 0, 1, true},
	} {
		require.Equal(t, tt.want, ShouldAdvance(tt.curS, tt.curE, tt.nextS, tt.nextE), tt.name)
	}
}
