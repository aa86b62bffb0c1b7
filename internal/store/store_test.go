package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uiptv/uiptv/internal/account"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "uiptv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFreshBoundary(t *testing.T) {
	now := time.Now()
	maxAge := 30 * time.Second
	cases := []struct {
		name     string
		cachedAt int64
		want     bool
	}{
		{"unset stamp", 0, false},
		{"negative stamp", -5, false},
		{"just written", now.UnixMilli(), true},
		{"exactly maxAge old", now.Add(-maxAge).UnixMilli(), true},
		{"one ms past maxAge", now.Add(-maxAge).UnixMilli() - 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Fresh(tc.cachedAt, maxAge, now))
		})
	}
}

func TestAccountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	a := &account.Account{
		Name:       "home",
		Type:       account.StalkerPortal,
		URL:        "http://portal.example.com",
		MacAddress: "00:1A:79:AA:BB:CC",
		Mode:       account.ModeLive,
		Token:      "should-not-persist",
	}
	require.NoError(t, s.SaveAccount(a))
	require.NotZero(t, a.ID)

	got, err := s.Account(a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "home", got.Name)
	require.Equal(t, account.StalkerPortal, got.Type)
	require.Empty(t, got.Token, "session token must never be persisted")

	got.ServerPortalURL = "http://portal.example.com/server/load.php?"
	require.NoError(t, s.SaveServerPortalURL(got))
	again, err := s.AccountByName("home")
	require.NoError(t, err)
	require.Equal(t, got.ServerPortalURL, again.ServerPortalURL)

	missing, err := s.Account(9999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestReplaceCategoriesSwapsScope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []account.Category{
		{CategoryID: "1", Title: "News"},
		{CategoryID: "2", Title: "Sports"},
	}
	require.NoError(t, s.ReplaceCategories(ctx, 1, account.ModeLive, first))

	// A second account and a second mode must not be touched by the swap.
	require.NoError(t, s.ReplaceCategories(ctx, 2, account.ModeLive, []account.Category{{CategoryID: "9", Title: "Other"}}))
	require.NoError(t, s.ReplaceCategories(ctx, 1, account.ModeVOD, []account.Category{{CategoryID: "m1", Title: "Movies"}}))

	require.NoError(t, s.ReplaceCategories(ctx, 1, account.ModeLive, []account.Category{{CategoryID: "3", Title: "Kids"}}))

	live, err := s.Categories(ctx, 1, account.ModeLive)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "Kids", live[0].Title)

	other, err := s.Categories(ctx, 2, account.ModeLive)
	require.NoError(t, err)
	require.Len(t, other, 1)

	vod, err := s.Categories(ctx, 1, account.ModeVOD)
	require.NoError(t, err)
	require.Len(t, vod, 1)

	ts, err := s.CategoriesCachedAt(ctx, 1, account.ModeLive)
	require.NoError(t, err)
	require.Greater(t, ts, int64(0))

	empty, err := s.CategoriesCachedAt(ctx, 3, account.ModeLive)
	require.NoError(t, err)
	require.Zero(t, empty)
}

func TestReplaceChannelsScopedByCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chans := func(names ...string) []account.Channel {
		out := make([]account.Channel, 0, len(names))
		for i, n := range names {
			out = append(out, account.Channel{ChannelID: n, Name: n, Number: i + 1, Cmd: "ffmpeg http://x/" + n})
		}
		return out
	}
	require.NoError(t, s.ReplaceChannels(ctx, 1, account.ModeLive, "10", chans("a", "b")))
	require.NoError(t, s.ReplaceChannels(ctx, 1, account.ModeLive, "20", chans("c")))
	require.NoError(t, s.ReplaceChannels(ctx, 1, account.ModeLive, "10", chans("d")))

	got, err := s.Channels(ctx, 1, account.ModeLive, "10")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "d", got[0].Name)
	require.Equal(t, "ffmpeg http://x/d", got[0].Cmd)

	other, err := s.Channels(ctx, 1, account.ModeLive, "20")
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestChannelDRMRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	in := []account.Channel{{
		ChannelID: "drm1",
		Name:      "Protected",
		Cmd:       "http://x/drm.mpd",
		DRM: &account.DRM{
			Type:             "clearkey",
			LicenseURL:       "http://keys.example.com/lic",
			InputstreamAddon: "inputstream.adaptive",
			ManifestType:     "mpd",
		},
	}}
	require.NoError(t, s.ReplaceChannels(ctx, 1, account.ModeLive, "All", in))
	got, err := s.Channels(ctx, 1, account.ModeLive, "All")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].DRM)
	require.Equal(t, "clearkey", got[0].DRM.Type)
	require.Equal(t, "mpd", got[0].DRM.ManifestType)
}

func TestEpisodeCachesAreCategoryScoped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	epsA := []account.Channel{{ChannelID: "e1", Name: "Show S01E01"}, {ChannelID: "e2", Name: "Show S01E02"}}
	epsB := []account.Channel{{ChannelID: "e9", Name: "Show S05E01"}}
	require.NoError(t, s.ReplaceEpisodes(ctx, 1, "catA", "series7", epsA))
	require.NoError(t, s.ReplaceEpisodes(ctx, 1, "catB", "series7", epsB))

	a, err := s.Episodes(ctx, 1, "catA", "series7")
	require.NoError(t, err)
	require.Len(t, a, 2)

	b, err := s.Episodes(ctx, 1, "catB", "series7")
	require.NoError(t, err)
	require.Len(t, b, 1)
	require.Equal(t, "Show S05E01", b[0].Name)

	ts, err := s.EpisodesCachedAt(ctx, 1, "catA", "series7")
	require.NoError(t, err)
	require.Greater(t, ts, int64(0))
}

func TestDeleteAccountCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &account.Account{Name: "gone", Type: account.XtremeAPI, URL: "http://x"}
	require.NoError(t, s.SaveAccount(a))
	require.NoError(t, s.ReplaceCategories(ctx, a.ID, account.ModeLive, []account.Category{{CategoryID: "1", Title: "T"}}))
	require.NoError(t, s.ReplaceChannels(ctx, a.ID, account.ModeLive, "1", []account.Channel{{ChannelID: "c"}}))
	require.NoError(t, s.ReplaceEpisodes(ctx, a.ID, "1", "s", []account.Channel{{ChannelID: "e"}}))
	require.NoError(t, s.SaveWatchState(&account.WatchState{
		AccountID: a.ID, Mode: account.ModeSeries, CategoryID: "1", SeriesID: "s",
		EpisodeID: "e", Season: 1, EpisodeNum: 1, UpdatedAt: 1, Source: account.WatchAuto,
	}))

	require.NoError(t, s.DeleteAccount(a.ID))

	gone, err := s.Account(a.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	cats, err := s.Categories(ctx, a.ID, account.ModeLive)
	require.NoError(t, err)
	require.Empty(t, cats)
	eps, err := s.Episodes(ctx, a.ID, "1", "s")
	require.NoError(t, err)
	require.Empty(t, eps)
	ws, err := s.WatchState(a.ID, account.ModeSeries, "1", "s")
	require.NoError(t, err)
	require.Nil(t, ws)
}

func TestWatchStateUpsertAndFallback(t *testing.T) {
	s := openTestStore(t)

	first := &account.WatchState{
		AccountID: 1, Mode: account.ModeSeries, CategoryID: "catA", SeriesID: "s1",
		EpisodeID: "e1", EpisodeName: "S01E01", Season: 1, EpisodeNum: 1,
		UpdatedAt: 100, Source: account.WatchAuto,
	}
	require.NoError(t, s.SaveWatchState(first))

	second := *first
	second.EpisodeID = "e2"
	second.EpisodeNum = 2
	second.UpdatedAt = 200
	require.NoError(t, s.SaveWatchState(&second))

	got, err := s.WatchState(1, account.ModeSeries, "catA", "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "e2", got.EpisodeID)
	require.Equal(t, int64(200), got.UpdatedAt)

	// Fallback picks the newest row across categories.
	newer := *first
	newer.CategoryID = "catB"
	newer.EpisodeID = "e9"
	newer.UpdatedAt = 300
	require.NoError(t, s.SaveWatchState(&newer))
	fallback, err := s.WatchStateAnyCategory(1, account.ModeSeries, "s1")
	require.NoError(t, err)
	require.Equal(t, "e9", fallback.EpisodeID)

	require.NoError(t, s.DeleteWatchState(1, account.ModeSeries, "catA", "s1"))
	gone, err := s.WatchState(1, account.ModeSeries, "catA", "s1")
	require.NoError(t, err)
	require.Nil(t, gone)

	all, err := s.WatchStatesByAccount(1)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
