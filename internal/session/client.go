// Package session owns the stateful Stalker Portal protocol: handshake,
// token lifecycle, profile confirmation, and the STB-fingerprinted wire
// client used for every portal call. Non-Stalker accounts are stateless and
// pass through untouched.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/httpclient"
)

// Portals only answer requests that look like a MAG set-top box.
const (
	stbUserAgent  = "Mozilla/5.0 (QtEmbedded; U; Linux; C) AppleWebKit/533.3 (KHTML, like Gecko) MAG200 stbapp ver: 2 rev: 250 Safari/533.3"
	stbXUserAgent = "Model: MAG250; Link: WiFi"
)

// Client is the Stalker wire client. All portal calls go through Fetch so
// they share headers, the cache buster and the per-host limiter.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

func NewClient(hc *http.Client, log zerolog.Logger) *Client {
	if hc == nil {
		hc = httpclient.Default()
	}
	return &Client{http: hc, log: log}
}

// Fetch performs one portal call against the account's resolved portal URL
// with the given form params. A JsHttpRequest cache buster is always
// appended; the bearer token is sent once the account is connected.
func (c *Client) Fetch(ctx context.Context, a *account.Account, params url.Values) ([]byte, error) {
	if a.ServerPortalURL == "" {
		return nil, fmt.Errorf("account %q: no server portal url", a.Name)
	}
	params.Set("JsHttpRequest", cacheBuster())
	target := a.ServerPortalURL
	if strings.Contains(target, "?") {
		target = strings.TrimRight(target, "?&") + "?" + params.Encode()
	} else {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("portal request: %w", err)
	}
	c.setHeaders(req, a)

	release := httpclient.GlobalHostSem.Acquire(req.URL.Scheme + "://" + req.URL.Host)
	resp, err := c.http.Do(req)
	release()
	if err != nil {
		return nil, fmt.Errorf("portal %s %s: %w", params.Get("type"), params.Get("action"), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("portal %s %s: status %d", params.Get("type"), params.Get("action"), resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("portal %s %s: read body: %w", params.Get("type"), params.Get("action"), err)
	}
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, a *account.Account) {
	req.Header.Set("User-Agent", stbUserAgent)
	req.Header.Set("X-User-Agent", stbXUserAgent)
	req.Header.Set("Referer", a.URL)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Cookie", "mac="+a.MacAddress+"; stb_lang=en; timezone=GMT;")
	if a.IsConnected() && a.Type == account.StalkerPortal && a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
}

// cacheBuster produces the JsHttpRequest value portals expect: epoch millis
// plus a literal "-xml" suffix.
func cacheBuster() string {
	return fmt.Sprintf("%d-xml", time.Now().UnixMilli())
}

// DecodeJS unmarshals the `js` payload of a portal response envelope into v.
func DecodeJS(body []byte, v any) error {
	var env struct {
		JS json.RawMessage `json:"js"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("portal envelope: %w", err)
	}
	if len(env.JS) == 0 {
		return fmt.Errorf("portal envelope: no js payload")
	}
	if err := json.Unmarshal(env.JS, v); err != nil {
		return fmt.Errorf("portal js payload: %w", err)
	}
	return nil
}
