// Package playback resolves catalog commands into directly playable stream
// URLs: create_link negotiation with candidate fallback for Stalker portals,
// local synthesis for Xtream panels, and passthrough for playlist kinds.
package playback

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/uiptv/uiptv/internal/account"
)

var (
	schemeRe   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
	bareHostRe = regexp.MustCompile(`^[a-zA-Z0-9.-]+(?::\d+)?/`)
	extRe      = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// ExtractPlayableURL strips the player-prefix portals prepend to commands
// ("ffmpeg http://...", sometimes glued with + or %20) and returns the URL
// itself. With multiple space-separated tokens the last one is the URL.
func ExtractPlayableURL(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return v
	}
	lower := strings.ToLower(v)
	for _, p := range []string{"ffmpeg ", "ffmpeg+", "ffmpeg%20"} {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(v[len(p):])
		}
	}
	if parts := strings.Split(v, " "); len(parts) > 1 {
		return parts[len(parts)-1]
	}
	return v
}

// NormalizeStreamURL repairs the address shapes portals hand back: scheme
// mismatches on known playback paths, protocol-relative and host-relative
// forms, and bare host/path strings. The account's portal URL supplies the
// scheme and host for the relative cases.
func NormalizeStreamURL(a *account.Account, raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return v
	}

	scheme, host := "http", ""
	if a != nil {
		if u, err := url.Parse(strings.TrimSpace(a.ServerPortalURL)); err == nil {
			if u.Scheme != "" {
				scheme = u.Scheme
			}
			host = u.Host
		}
	}

	if schemeRe.MatchString(v) {
		// Some Stalker providers return https links actually served over
		// http. Align transport with the portal scheme for known paths.
		lower := strings.ToLower(v)
		if a != nil && a.Type == account.StalkerPortal && scheme == "http" &&
			strings.HasPrefix(lower, "https://") &&
			(strings.Contains(lower, "/live/play/") || strings.Contains(lower, "/play/movie.php")) {
			return "http://" + v[len("https://"):]
		}
		return v
	}
	if strings.HasPrefix(v, "//") {
		return scheme + ":" + v
	}
	if strings.HasPrefix(v, "/") {
		if host != "" {
			return scheme + "://" + host + v
		}
		return v
	}
	if bareHostRe.MatchString(v) {
		return scheme + "://" + v
	}
	return v
}

// IsUsableLiveCmd rejects the known-broken live command shape with an empty
// stream parameter, which portals answer with 405.
func IsUsableLiveCmd(cmd string) bool {
	v := strings.ToLower(strings.TrimSpace(cmd))
	if v == "" {
		return false
	}
	v = strings.TrimSpace(strings.TrimPrefix(v, "ffmpeg "))
	return !strings.Contains(v, "stream=&")
}

// BestChannelCmd picks the command to hand to create_link: for Stalker live
// channels the first usable candidate, for everything else the primary cmd.
func BestChannelCmd(a *account.Account, ch *account.Channel) string {
	if ch == nil {
		return ""
	}
	if a != nil && a.Type == account.StalkerPortal && a.Mode == account.ModeLive {
		for _, c := range ch.Cmds() {
			if IsUsableLiveCmd(c) {
				return c
			}
		}
	}
	return ch.Cmd
}

// MergeMissingQueryParams fills query parameters that create_link dropped or
// blanked from the original command, keeping every value the portal did
// return. Both sides may carry an ffmpeg prefix; a relative resolved base is
// resolved against the original URL's directory.
func MergeMissingQueryParams(resolvedCmd, originalCmd string) string {
	if strings.TrimSpace(resolvedCmd) == "" || strings.TrimSpace(originalCmd) == "" {
		return resolvedCmd
	}
	resolvedPrefix := cmdPrefix(resolvedCmd)
	originalPrefix := cmdPrefix(originalCmd)
	resolvedURL := cmdURL(resolvedCmd)
	originalURL := cmdURL(originalCmd)

	ri := strings.Index(resolvedURL, "?")
	oi := strings.Index(originalURL, "?")
	if ri < 0 || oi < 0 {
		return resolvedCmd
	}
	base := resolveBase(resolvedURL[:ri], originalURL[:oi])
	resolved := parseQuery(resolvedURL[ri+1:])
	original := parseQuery(originalURL[oi+1:])

	for _, kv := range original.pairs {
		if existing, ok := resolved.get(kv.key); (!ok || existing == "") && kv.value != "" {
			resolved.set(kv.key, kv.value)
		}
	}

	merged := base + "?" + resolved.encode()
	prefix := resolvedPrefix
	if prefix == "" {
		prefix = originalPrefix
	}
	if prefix == "" {
		return merged
	}
	return prefix + " " + merged
}

// resolveBase handles create_link responses whose URL part is relative:
// resolve it against the directory of the original command's URL.
func resolveBase(resolvedBase, originalBase string) string {
	v := strings.TrimSpace(resolvedBase)
	if v == "" || schemeRe.MatchString(v) || strings.HasPrefix(v, "//") {
		return v
	}
	ou, err := url.Parse(strings.TrimSpace(originalBase))
	if err != nil || ou.Scheme == "" || ou.Host == "" {
		return v
	}
	if !strings.HasSuffix(ou.Path, "/") {
		if idx := strings.LastIndex(ou.Path, "/"); idx >= 0 {
			ou.Path = ou.Path[:idx+1]
		} else {
			ou.Path = "/"
		}
	}
	ou.RawQuery = ""
	rel, err := url.Parse(v)
	if err != nil {
		return v
	}
	return ou.ResolveReference(rel).String()
}

// orderedQuery keeps query parameters in their original order: portals are
// sensitive to it, so encoding must not shuffle keys.
type orderedQuery struct {
	pairs []queryPair
	index map[string]int
}

type queryPair struct {
	key, value string
}

func parseQuery(q string) *orderedQuery {
	out := &orderedQuery{index: map[string]int{}}
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			value = v
		}
		out.set(key, value)
	}
	return out
}

func (q *orderedQuery) set(key, value string) {
	if i, ok := q.index[key]; ok {
		q.pairs[i].value = value
		return
	}
	q.index[key] = len(q.pairs)
	q.pairs = append(q.pairs, queryPair{key, value})
}

func (q *orderedQuery) get(key string) (string, bool) {
	if i, ok := q.index[key]; ok {
		return q.pairs[i].value, true
	}
	return "", false
}

func (q *orderedQuery) encode() string {
	var b strings.Builder
	for i, kv := range q.pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.value))
	}
	return b.String()
}

func cmdPrefix(cmd string) string {
	if strings.HasPrefix(strings.TrimSpace(cmd), "ffmpeg ") {
		return "ffmpeg"
	}
	return ""
}

func cmdURL(cmd string) string {
	v := strings.TrimSpace(cmd)
	if strings.HasPrefix(v, "ffmpeg ") {
		return strings.TrimSpace(v[len("ffmpeg "):])
	}
	return v
}

// normalizeSeriesStreamPlaceholder substitutes the stream token derived from
// the requested episode into the placeholder create_link leaves for series
// ("stream=." or an empty stream=).
func normalizeSeriesStreamPlaceholder(resolvedCmd, seriesParam string) string {
	if resolvedCmd == "" || strings.TrimSpace(seriesParam) == "" {
		return resolvedCmd
	}
	token := extractStreamToken(seriesParam)
	if token == "" {
		return resolvedCmd
	}
	switch {
	case strings.Contains(resolvedCmd, "stream=.&"):
		return strings.ReplaceAll(resolvedCmd, "stream=.&", "stream="+token+"&")
	case strings.HasSuffix(resolvedCmd, "stream=."):
		return strings.TrimSuffix(resolvedCmd, "stream=.") + "stream=" + token
	case strings.Contains(resolvedCmd, "stream=&"):
		return strings.ReplaceAll(resolvedCmd, "stream=&", "stream="+token+"&")
	case strings.HasSuffix(resolvedCmd, "stream="):
		return resolvedCmd + token
	}
	return resolvedCmd
}

// extractStreamToken keeps the digits of the episode reference, cutting at
// the first colon for "id:quality" style values.
func extractStreamToken(seriesParam string) string {
	v := strings.TrimSpace(seriesParam)
	if i := strings.Index(v, ":"); i > 0 {
		v = v[:i]
	}
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// InferExtensionFromCmd pulls the container extension off a command's URL
// path, "" when there is none worth keeping.
func InferExtensionFromCmd(cmd string) string {
	playable := ExtractPlayableURL(cmd)
	if playable == "" {
		return ""
	}
	if i := strings.Index(playable, "?"); i >= 0 {
		playable = playable[:i]
	}
	if i := strings.Index(playable, "#"); i >= 0 {
		playable = playable[:i]
	}
	last := playable
	if i := strings.LastIndex(last, "/"); i >= 0 {
		last = last[i+1:]
	}
	dot := strings.LastIndex(last, ".")
	if dot <= 0 || dot >= len(last)-1 {
		return ""
	}
	ext := last[dot+1:]
	if !extRe.MatchString(ext) {
		return ""
	}
	return ext
}
