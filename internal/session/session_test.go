package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/uiptv/uiptv/internal/account"
)

type portalURLRecorder struct {
	saved []string
}

func (r *portalURLRecorder) SaveServerPortalURL(a *account.Account) error {
	r.saved = append(r.saved, a.ServerPortalURL)
	return nil
}

func stalkerAccount(base string) *account.Account {
	return &account.Account{
		ID:         1,
		Name:       "test",
		Type:       account.StalkerPortal,
		URL:        base,
		MacAddress: "00:1A:79:AA:BB:CC",
	}
}

func TestConnectObtainsToken(t *testing.T) {
	var actions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, stbUserAgent, r.Header.Get("User-Agent"))
		require.Contains(t, r.Header.Get("Cookie"), "mac=00:1A:79:AA:BB:CC")
		action := r.URL.Query().Get("action")
		actions = append(actions, action)
		require.NotEmpty(t, r.URL.Query().Get("JsHttpRequest"))
		switch action {
		case "handshake":
			fmt.Fprint(w, `{"js":{"token":"tok123"}}`)
		case "get_profile":
			require.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
			require.Equal(t, "MAG250", r.URL.Query().Get("stb_type"))
			fmt.Fprint(w, `{"js":{"id":"1"}}`)
		case "get_main_info":
			fmt.Fprint(w, `{"js":{"phone":""}}`)
		default:
			t.Errorf("unexpected action %q", action)
		}
	}))
	defer srv.Close()

	a := stalkerAccount(srv.URL)
	a.ServerPortalURL = srv.URL + "/portal.php"
	rec := &portalURLRecorder{}
	m := NewManager(NewClient(srv.Client(), zerolog.Nop()), rec, zerolog.Nop())

	require.NoError(t, m.Connect(context.Background(), a))
	require.Equal(t, "tok123", a.Token)
	require.True(t, a.IsConnected())
	require.Equal(t, []string{"handshake", "get_profile", "get_main_info"}, actions)
	require.Empty(t, rec.saved, "portal url was already known")
}

func TestConnectMalformedHandshakeLeavesDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json at all`)
	}))
	defer srv.Close()

	a := stalkerAccount(srv.URL)
	a.ServerPortalURL = srv.URL + "/portal.php"
	m := NewManager(NewClient(srv.Client(), zerolog.Nop()), nil, zerolog.Nop())

	require.NoError(t, m.Connect(context.Background(), a), "connectivity failures are not errors")
	require.True(t, a.IsNotConnected())
}

func TestConnectBlankTokenLeavesDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"js":{"token":""}}`)
	}))
	defer srv.Close()

	a := stalkerAccount(srv.URL)
	a.ServerPortalURL = srv.URL + "/portal.php"
	m := NewManager(NewClient(srv.Client(), zerolog.Nop()), nil, zerolog.Nop())

	require.NoError(t, m.Connect(context.Background(), a))
	require.Empty(t, a.Token)
}

func TestConnectIsNoopForStatelessAccounts(t *testing.T) {
	m := NewManager(NewClient(nil, zerolog.Nop()), nil, zerolog.Nop())
	a := &account.Account{Name: "m3u", Type: account.M3U8URL}
	require.NoError(t, m.Connect(context.Background(), a))
	require.True(t, a.IsConnected())
}

func TestConnectDiscoversAndPersistsPortalURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/server/load.php":
			fmt.Fprint(w, `{"js":{"token":"tok"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := stalkerAccount(srv.URL)
	rec := &portalURLRecorder{}
	m := NewManager(NewClient(srv.Client(), zerolog.Nop()), rec, zerolog.Nop())

	require.NoError(t, m.Connect(context.Background(), a))
	require.Equal(t, srv.URL+"/server/load.php", a.ServerPortalURL)
	require.Equal(t, []string{srv.URL + "/server/load.php"}, rec.saved)
	require.Equal(t, "tok", a.Token)
}

func TestDiscoverPortalFallsBackToPortalPHP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), zerolog.Nop())
	got := c.DiscoverPortal(context.Background(), srv.URL, "mac")
	require.Equal(t, srv.URL+"/portal.php", got)
}

func TestDiscoverPortalParsesXpcom(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/xpcom.common.js" {
			fmt.Fprint(w, `this.get_server_params=function(){`+
				`this.ajax_loader = 'http://`+strings.TrimPrefix(srv.URL, "http://")+`/stalker_portal/server/load.php';`+
				`}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), zerolog.Nop())
	got := c.DiscoverPortal(context.Background(), srv.URL, "mac")
	require.Equal(t, srv.URL+"/stalker_portal/server/load.php", got)
}

func TestSubstitutePortalVars(t *testing.T) {
	got := substitutePortalVars(
		`this.portal_protocol+'://'+this.portal_ip+'/'+this.portal_path+'/server/load.php'`,
		"http://portal.example.com/stalker_portal/")
	require.Equal(t, "http://portal.example.com/stalker_portal/server/load.php", got)

	require.Empty(t, substitutePortalVars(`document.URL.replace(pattern,"$1")`, "http://x"))
}

func TestExtractLoaderPath(t *testing.T) {
	js := `varajax='/stalker_portal/server/load.php';`
	got := extractLoaderPath(js, "load.php", "http://host/")
	require.Equal(t, "http://host/stalker_portal/server/load.php", got)
}

func TestHardTokenRefreshSkipsMainInfo(t *testing.T) {
	var actions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actions = append(actions, r.URL.Query().Get("action"))
		switch r.URL.Query().Get("action") {
		case "handshake":
			fmt.Fprint(w, `{"js":{"token":"fresh"}}`)
		default:
			fmt.Fprint(w, `{"js":{}}`)
		}
	}))
	defer srv.Close()

	a := stalkerAccount(srv.URL)
	a.ServerPortalURL = srv.URL + "/portal.php"
	a.Token = "stale"
	m := NewManager(NewClient(srv.Client(), zerolog.Nop()), nil, zerolog.Nop())

	require.NoError(t, m.HardTokenRefresh(context.Background(), a))
	require.Equal(t, "fresh", a.Token)
	require.Equal(t, []string{"handshake", "get_profile"}, actions)
}

func TestConnectCoalescedWaiterReceivesToken(t *testing.T) {
	inHandshake := make(chan struct{}, 2)
	release := make(chan struct{})
	var handshakes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == "handshake" {
			handshakes.Add(1)
			inHandshake <- struct{}{}
			<-release
			fmt.Fprint(w, `{"js":{"token":"shared"}}`)
			return
		}
		fmt.Fprint(w, `{"js":{}}`)
	}))
	defer srv.Close()

	m := NewManager(NewClient(srv.Client(), zerolog.Nop()), nil, zerolog.Nop())

	// Two distinct Account instances for the same account name.
	first := stalkerAccount(srv.URL)
	first.ServerPortalURL = srv.URL + "/portal.php"
	second := stalkerAccount(srv.URL)
	second.ServerPortalURL = srv.URL + "/portal.php"

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		require.NoError(t, m.Connect(context.Background(), first))
	}()
	<-inHandshake
	go func() {
		defer wg.Done()
		require.NoError(t, m.Connect(context.Background(), second))
	}()
	// Give the second caller time to join the in-flight handshake.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, handshakes.Load())
	require.Equal(t, "shared", first.Token)
	require.Equal(t, "shared", second.Token)
}
