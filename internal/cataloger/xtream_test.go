package cataloger

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uiptv/uiptv/internal/account"
)

func xtreamTestAccount(base string) *account.Account {
	return &account.Account{
		ID:       3,
		Name:     "panel",
		Type:     account.XtremeAPI,
		URL:      base,
		Username: "user",
		Password: "pass",
		Mode:     account.ModeLive,
	}
}

func xtreamHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/player_api.php" {
			http.NotFound(w, r)
			return
		}
		require.Equal(t, "user", r.URL.Query().Get("username"))
		require.Equal(t, "pass", r.URL.Query().Get("password"))
		switch r.URL.Query().Get("action") {
		case "get_live_categories":
			// category ids arrive as numbers on some panels, strings on others
			fmt.Fprint(w, `[{"category_id":1,"category_name":"News"},{"category_id":"2","category_name":"Sports"}]`)
		case "get_live_streams":
			fmt.Fprint(w, `[{"stream_id":101,"num":1,"name":"News HD","stream_icon":"http://logo/101.png"}]`)
		case "get_vod_streams":
			fmt.Fprint(w, `[{"stream_id":202,"num":1,"name":"Some Movie","stream_icon":"http://logo/202.png","container_extension":"mkv"}]`)
		case "get_series":
			fmt.Fprint(w, `[{"series_id":303,"num":1,"name":"Some Show","cover":"http://logo/303.png"}]`)
		case "get_series_info":
			require.Equal(t, "303", r.URL.Query().Get("series_id"))
			fmt.Fprint(w, `{"episodes":{
				"1":[{"id":"40001","episode_num":1,"title":"Pilot","container_extension":"mkv","season":1,
					"info":{"movie_image":"http://img/1.png","plot":"First.","duration":"00:42:00"}}],
				"2":[{"id":"40002","episode_num":1,"title":"Opener","season":2}]
			}}`)
		default:
			http.NotFound(w, r)
		}
	})
}

func TestXtreamCategoriesToleratesNumericIDs(t *testing.T) {
	svc, srv := newTestService(t, xtreamHandler(t), Options{})
	a := xtreamTestAccount(srv.URL)

	cats, err := (&xtreamAdapter{svc: svc}).FetchCategories(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	require.Equal(t, "1", cats[0].CategoryID)
	require.Equal(t, "2", cats[1].CategoryID)
}

func TestXtreamLiveCatalogURLHasNoTypeSegment(t *testing.T) {
	svc, srv := newTestService(t, xtreamHandler(t), Options{})
	a := xtreamTestAccount(srv.URL)

	chans, err := (&xtreamAdapter{svc: svc}).FetchChannels(context.Background(), a, "1")
	require.NoError(t, err)
	require.Len(t, chans, 1)
	require.Equal(t, srv.URL+"/user/pass/101", chans[0].Cmd)
	require.Equal(t, "101", chans[0].ChannelID)
}

func TestXtreamVODCatalogURLCarriesExtension(t *testing.T) {
	svc, srv := newTestService(t, xtreamHandler(t), Options{})
	a := xtreamTestAccount(srv.URL)
	a.Mode = account.ModeVOD

	chans, err := (&xtreamAdapter{svc: svc}).FetchChannels(context.Background(), a, "9")
	require.NoError(t, err)
	require.Len(t, chans, 1)
	require.Equal(t, srv.URL+"/movie/user/pass/202.mkv", chans[0].Cmd)
}

func TestXtreamSeriesUsesSeriesIDAndCover(t *testing.T) {
	svc, srv := newTestService(t, xtreamHandler(t), Options{})
	a := xtreamTestAccount(srv.URL)
	a.Mode = account.ModeSeries

	chans, err := (&xtreamAdapter{svc: svc}).FetchChannels(context.Background(), a, "9")
	require.NoError(t, err)
	require.Len(t, chans, 1)
	require.Equal(t, "303", chans[0].ChannelID)
	require.Equal(t, "http://logo/303.png", chans[0].Logo)
}

func TestXtreamEpisodesAcrossSeasons(t *testing.T) {
	svc, srv := newTestService(t, xtreamHandler(t), Options{})
	a := xtreamTestAccount(srv.URL)
	a.Mode = account.ModeSeries

	eps, err := (&xtreamAdapter{svc: svc}).FetchEpisodes(context.Background(), a, "9", "303")
	require.NoError(t, err)
	require.Len(t, eps, 2)

	require.Equal(t, "Pilot", eps[0].Name)
	require.Equal(t, "1", eps[0].Season)
	require.Equal(t, srv.URL+"/series/user/pass/40001.mkv", eps[0].Cmd)
	require.Equal(t, "00:42:00", eps[0].Duration)

	require.Equal(t, "Opener", eps[1].Name)
	require.Equal(t, "2", eps[1].Season)
	require.Equal(t, srv.URL+"/series/user/pass/40002.mp4", eps[1].Cmd, "missing container falls back to mp4")
}

func TestXtreamBaseCandidateFallbackOn404(t *testing.T) {
	good := httptest.NewServer(xtreamHandler(t))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer bad.Close()

	svc, _ := newTestService(t, http.NotFoundHandler(), Options{})
	a := xtreamTestAccount(good.URL)
	a.M3UPath = bad.URL + "/player_api.php?username=user&password=pass"
	svc.http = good.Client()

	cats, err := (&xtreamAdapter{svc: svc}).FetchCategories(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, cats, 2, "second base candidate must be tried after a 404")
}

func TestNormalizeBaseURL(t *testing.T) {
	for _, tt := range []struct{ in, want string }{
		{"http://host:8080", "http://host:8080/"},
		{"http://host/player_api.php?username=u", "http://host/"},
		{"host.example.com", "http://host.example.com/"},
		{"  ", ""},
	} {
		require.Equal(t, tt.want, normalizeBaseURL(tt.in), "input %q", tt.in)
	}
}
