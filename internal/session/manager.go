package session

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/uiptv/uiptv/internal/account"
)

// PortalStore persists the lazily discovered portal URL back onto the
// account record.
type PortalStore interface {
	SaveServerPortalURL(a *account.Account) error
}

// Manager drives the connect / token-refresh state machine. A handshake that
// yields no token leaves the account disconnected and logged, never an error:
// callers check IsConnected before depending on the token. Concurrent
// connects for the same account coalesce into one handshake.
type Manager struct {
	client *Client
	store  PortalStore
	log    zerolog.Logger
	group  singleflight.Group
}

func NewManager(client *Client, store PortalStore, log zerolog.Logger) *Manager {
	return &Manager{client: client, store: store, log: log}
}

// connectResult carries the session state out of a coalesced handshake so
// every waiter gets it, not just the account instance the winner held.
type connectResult struct {
	token     string
	portalURL string
}

// Connect clears the session token and performs the full connect sequence:
// resolve portal URL, handshake, get_profile, get_main_info. The returned
// error covers persistence failures only; connectivity failures degrade to a
// disconnected account.
func (m *Manager) Connect(ctx context.Context, a *account.Account) error {
	return m.coalesced(ctx, "connect:", a, true)
}

// HardTokenRefresh re-runs the handshake to obtain a new token, used by
// playback when create_link comes back empty. Coalesced like Connect.
func (m *Manager) HardTokenRefresh(ctx context.Context, a *account.Account) error {
	return m.coalesced(ctx, "refresh:", a, false)
}

func (m *Manager) coalesced(ctx context.Context, prefix string, a *account.Account, confirmMainInfo bool) error {
	if a.Type != account.StalkerPortal {
		return nil
	}
	res, err, _ := m.group.Do(prefix+a.Name, func() (any, error) {
		err := m.connect(ctx, a, confirmMainInfo)
		return connectResult{token: a.Token, portalURL: a.ServerPortalURL}, err
	})
	if r, ok := res.(connectResult); ok {
		a.Token = r.token
		if strings.TrimSpace(a.ServerPortalURL) == "" {
			a.ServerPortalURL = r.portalURL
		}
	}
	return err
}

func (m *Manager) connect(ctx context.Context, a *account.Account, confirmMainInfo bool) error {
	a.Token = ""
	if err := m.ensureServerPortalURL(ctx, a); err != nil {
		return err
	}

	body, err := m.client.Fetch(ctx, a, url.Values{
		"type":   {"stb"},
		"action": {"handshake"},
		"token":  {""},
	})
	if err != nil {
		m.log.Warn().Err(err).Str("account", a.Name).Msg("handshake failed")
		return nil
	}
	a.Token = parseToken(body)
	if a.IsNotConnected() {
		m.log.Warn().Str("account", a.Name).Msg("handshake returned no token")
		return nil
	}

	profile, err := m.client.Fetch(ctx, a, profileParams(a))
	if err != nil {
		m.log.Warn().Err(err).Str("account", a.Name).Msg("get_profile failed")
		return nil
	}
	if confirmMainInfo && len(profile) > 0 {
		if _, err := m.client.Fetch(ctx, a, url.Values{
			"type":   {"account_info"},
			"action": {"get_main_info"},
		}); err != nil {
			m.log.Debug().Err(err).Str("account", a.Name).Msg("get_main_info failed")
		}
	}
	m.log.Debug().Str("account", a.Name).Msg("connected")
	return nil
}

// ensureServerPortalURL resolves and persists the portal endpoint the first
// time it is needed. The persisted URL survives restarts so discovery runs
// once per account, not once per session.
func (m *Manager) ensureServerPortalURL(ctx context.Context, a *account.Account) error {
	if strings.TrimSpace(a.ServerPortalURL) != "" {
		return nil
	}
	a.ServerPortalURL = m.client.DiscoverPortal(ctx, a.URL, a.MacAddress)
	if m.store != nil {
		if err := m.store.SaveServerPortalURL(a); err != nil {
			return err
		}
	}
	return nil
}

func parseToken(body []byte) string {
	var js struct {
		Token string `json:"token"`
	}
	if err := DecodeJS(body, &js); err != nil {
		return ""
	}
	return strings.TrimSpace(js.Token)
}

// profileParams carries the MAG250 identity fingerprint portals validate
// during the second auth step.
func profileParams(a *account.Account) url.Values {
	sig := a.Signature
	if sig == "" {
		sig = generateSerialNumber()
	}
	deviceID2 := a.DeviceID2
	if deviceID2 == "" {
		deviceID2 = a.DeviceID1
	}
	return url.Values{
		"type":             {"stb"},
		"action":           {"get_profile"},
		"hd":               {"1"},
		"ver":              {"ImageDescription: 0.2.18-r23-250; ImageDate: Wed Aug 29 10:49:53 EEST 2018; PORTAL version: 5.6.9; API Version: JS API version: 343; STB API version: 146; Player Engine version: 0x58c"},
		"num_banks":        {"2"},
		"sn":               {a.SerialNumber},
		"stb_type":         {"MAG250"},
		"client_type":      {"STB"},
		"image_version":    {"218"},
		"video_out":        {"hdmi"},
		"device_id":        {a.DeviceID1},
		"device_id2":       {deviceID2},
		"signature":        {sig},
		"auth_second_step": {"1"},
		"hw_version":       {"1.7-BD-00"},
		"not_valid_token":  {"0"},
		"metrics":          {`{"mac":"` + a.MacAddress + `","sn":"` + a.SerialNumber + `","type":"STB","model":"MAG250","uid":"","random":"` + generateRandom() + `"}`},
		"hw_version_2":     {generateRandom()},
		"api_signature":    {"262"},
		"prehash":          {""},
	}
}

func generateSerialNumber() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""))
}

func generateRandom() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")[:39]
}
