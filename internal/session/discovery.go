package session

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Known Stalker API endpoints, probed in order against the account base URL.
var probePaths = []string{
	"/server/load.php",
	"/portal.php",
	"/c/portal.php",
	"/stalker_portal/server/load.php",
	"/stalker_portal/c/portal.php",
	"/server/portal.php",
	"/mag/c/portal.php",
}

// DiscoverPortal resolves the account's real API endpoint from its base URL.
// Three phases: direct probing of known paths with a handshake request, then
// parsing the portal's xpcom.common.js bootstrap file, then a hard fallback
// to base + "portal.php". Always returns a usable URL.
func (c *Client) DiscoverPortal(ctx context.Context, baseURL, macAddress string) string {
	base := ensureAbsoluteURL(baseURL)
	trimmed := strings.TrimSuffix(base, "/")

	for _, path := range probePaths {
		target := trimmed + path
		if c.checkHandshake(ctx, target, macAddress) {
			c.log.Debug().Str("portal", target).Msg("portal endpoint found via probe")
			return target
		}
	}

	if resolved := c.parseXpcom(ctx, base); resolved != "" {
		c.log.Debug().Str("portal", resolved).Msg("portal endpoint found via xpcom.common.js")
		return resolved
	}

	return base + "portal.php"
}

// checkHandshake sends a Stalker handshake to target and reports whether the
// response looks like a portal (a js/token JSON body). Probe failures are
// expected and ignored.
func (c *Client) checkHandshake(ctx context.Context, target, macAddress string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		target+"?type=stb&action=handshake&JsHttpRequest=1-xml", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", stbUserAgent)
	req.Header.Set("X-User-Agent", stbXUserAgent)
	req.Header.Set("Referer", target)
	req.Header.Set("Cookie", "mac="+macAddress+"; stb_lang=en; timezone=GMT")
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}
	s := string(body)
	return strings.Contains(s, `"token"`) || strings.Contains(s, `"js"`)
}

var ajaxLoaderRe = regexp.MustCompile(`this\.ajax_loader\s*=\s*([^;]+);`)

// parseXpcom downloads base + xpcom.common.js and extracts the API endpoint
// from the bootstrap script: first the ajax_loader assignment with its
// portal_protocol/ip/path placeholders substituted from the account URL,
// then a plain scan for a portal.php / load.php path.
func (c *Client) parseXpcom(ctx context.Context, base string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"xpcom.common.js", nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", stbUserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ""
	}
	// The script concatenates with + and quotes; collapse whitespace first.
	js := strings.ReplaceAll(string(body), " ", "")

	if m := ajaxLoaderRe.FindStringSubmatch(js); len(m) == 2 {
		if resolved := substitutePortalVars(m[1], base); resolved != "" {
			return resolved
		}
	}
	for _, loader := range []string{"portal.php", "load.php"} {
		if resolved := extractLoaderPath(js, loader, base); resolved != "" {
			return resolved
		}
	}
	return ""
}

// substitutePortalVars rewrites an ajax_loader expression like
//
//	this.portal_protocol+'://'+this.portal_ip+'/'+this.portal_path+'/server/load.php'
//
// using scheme/host/path from the account base URL.
func substitutePortalVars(expr, base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	s := expr
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, "+", "")
	s = strings.ReplaceAll(s, "this.portal_protocol", u.Scheme)
	s = strings.ReplaceAll(s, "this.portal_ip", u.Hostname())
	s = strings.ReplaceAll(s, "this.portal_port", u.Port())
	s = strings.ReplaceAll(s, "this.portal_path", strings.Trim(u.Path, "/"))
	if s == "" || strings.Contains(s, "this.") || strings.Contains(s, "document.") {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(s, "/")
	}
	if _, err := url.Parse(s); err != nil {
		return ""
	}
	return s
}

// extractLoaderPath finds the quoted path ending in loader (e.g.
// "/stalker_portal/server/load.php") inside the script and joins it onto base.
func extractLoaderPath(js, loader, base string) string {
	i := strings.Index(strings.ToLower(js), loader)
	if i < 0 {
		return ""
	}
	end := i + len(loader)
	if end >= len(js) {
		return ""
	}
	delim := js[end : end+1]
	start := strings.LastIndex(js[:i], delim+"/")
	if start < 0 {
		return ""
	}
	path := js[start+1 : end]
	joined := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	if _, err := url.Parse(joined); err != nil {
		return ""
	}
	return joined
}

func ensureAbsoluteURL(u string) string {
	if strings.TrimSpace(u) == "" {
		return "http://"
	}
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}
