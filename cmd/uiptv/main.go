// Command uiptv: provider sync and playback resolution engine.
//
//	account     Add, list or delete provider accounts
//	categories  List categories for an account (cache-backed)
//	channels    List channels of a category (cache-backed)
//	episodes    List series episodes (cache-backed)
//	resolve     Resolve a playable URL for a channel or episode
//	reload      Hard-refresh the full catalog of an account
//	verify-mac  Check a candidate MAC against a Stalker portal
//	watched     Show, mark or clear series watch state
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/cataloger"
	"github.com/uiptv/uiptv/internal/config"
	"github.com/uiptv/uiptv/internal/httpclient"
	"github.com/uiptv/uiptv/internal/playback"
	"github.com/uiptv/uiptv/internal/session"
	"github.com/uiptv/uiptv/internal/store"
	"github.com/uiptv/uiptv/internal/watch"
)

// engine bundles the wired services behind every subcommand.
type engine struct {
	cfg      *config.Config
	store    *store.Store
	sessions *session.Manager
	catalog  *cataloger.Service
	tracker  *watch.Tracker
	resolver *playback.Resolver
	log      zerolog.Logger
}

func newEngine(cfg *config.Config, log zerolog.Logger) (*engine, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db %s: %w", cfg.DBPath, err)
	}
	hc := httpclient.WithTimeout(cfg.HTTPTimeout)
	portal := session.NewClient(hc, log)
	sessions := session.NewManager(portal, st, log)
	catalog := cataloger.New(st, sessions, portal, hc, cataloger.Options{
		FilterChannels:   cfg.FilterChannels,
		FilterCategories: cfg.FilterCategories,
		PauseFiltering:   cfg.PauseFiltering,
		PauseCaching:     cfg.PauseCaching,
		CategoryTTL:      cfg.CategoryTTL,
		EpisodeTTL:       cfg.EpisodeTTL,
	}, log)
	tracker := watch.NewTracker(st, log)
	resolver := playback.NewResolver(sessions, portal, tracker, log)
	return &engine{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		catalog:  catalog,
		tracker:  tracker,
		resolver: resolver,
		log:      log,
	}, nil
}

func (e *engine) Close() { _ = e.store.Close() }

// accountByRef resolves -account flags: numeric id first, then name.
func (e *engine) accountByRef(ref string) (*account.Account, error) {
	if ref == "" {
		return nil, fmt.Errorf("missing -account (id or name)")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if a, err := e.store.Account(id); err == nil {
			return a, nil
		}
	}
	return e.store.AccountByName(ref)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("command failed")
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <account|categories|channels|episodes|resolve|reload|verify-mac|watched> [flags]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  account     add | list | delete provider accounts\n")
	fmt.Fprintf(os.Stderr, "  categories  list categories for -account in -mode\n")
	fmt.Fprintf(os.Stderr, "  channels    list channels of -category\n")
	fmt.Fprintf(os.Stderr, "  episodes    list episodes of -series in -category\n")
	fmt.Fprintf(os.Stderr, "  resolve     resolve the playable URL of -channel (or -series episode)\n")
	fmt.Fprintf(os.Stderr, "  reload      clear and re-fetch the whole catalog of -account\n")
	fmt.Fprintf(os.Stderr, "  verify-mac  probe a Stalker portal with -mac without touching the stored identity\n")
	fmt.Fprintf(os.Stderr, "  watched     list | mark | clear series watch pointers\n")
	os.Exit(1)
}

func parseMode(s string) (account.Mode, error) {
	switch s {
	case "", "live", "itv":
		return account.ModeLive, nil
	case "vod":
		return account.ModeVOD, nil
	case "series":
		return account.ModeSeries, nil
	}
	return "", fmt.Errorf("unknown mode %q (live, vod, series)", s)
}

func parseType(s string) (account.Type, error) {
	switch s {
	case "stalker":
		return account.StalkerPortal, nil
	case "xtream":
		return account.XtremeAPI, nil
	case "m3u":
		return account.M3U8Local, nil
	case "m3u-url":
		return account.M3U8URL, nil
	case "rss":
		return account.RSSFeed, nil
	}
	return "", fmt.Errorf("unknown account type %q (stalker, xtream, m3u, m3u-url, rss)", s)
}

func main() {
	_ = config.LoadEnvFile(".env")
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg, log)
	if err != nil {
		fatal(log, err)
	}
	defer eng.Close()

	switch os.Args[1] {
	case "account":
		runAccount(ctx, eng, os.Args[2:])
	case "categories":
		runCategories(ctx, eng, os.Args[2:])
	case "channels":
		runChannels(ctx, eng, os.Args[2:])
	case "episodes":
		runEpisodes(ctx, eng, os.Args[2:])
	case "resolve":
		runResolve(ctx, eng, os.Args[2:])
	case "reload":
		runReload(ctx, eng, os.Args[2:])
	case "verify-mac":
		runVerifyMac(ctx, eng, os.Args[2:])
	case "watched":
		runWatched(eng, os.Args[2:])
	default:
		usage()
	}
}

func runAccount(_ context.Context, eng *engine, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s account <add|list|delete> [flags]\n", os.Args[0])
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("account add", flag.ExitOnError)
		name := fs.String("name", "", "Account name (unique)")
		typ := fs.String("type", "stalker", "Provider type: stalker, xtream, m3u, m3u-url, rss")
		url := fs.String("url", "", "Portal / panel / feed URL")
		user := fs.String("user", "", "Username (xtream)")
		pass := fs.String("pass", "", "Password (xtream)")
		mac := fs.String("mac", "", "MAC address (stalker)")
		serial := fs.String("serial", "", "STB serial number (stalker, derived from MAC when empty)")
		m3uPath := fs.String("m3u", "", "Playlist path or URL (m3u, m3u-url, xtream panel base)")
		epg := fs.String("epg", "", "EPG URL")
		pause := fs.Bool("pause-caching", false, "Bypass the cache for this account")
		_ = fs.Parse(args[1:])
		t, err := parseType(*typ)
		if err != nil {
			fatal(eng.log, err)
		}
		a := &account.Account{
			Name:         *name,
			Type:         t,
			Username:     *user,
			Password:     *pass,
			URL:          *url,
			MacAddress:   *mac,
			SerialNumber: *serial,
			EPGURL:       *epg,
			M3UPath:      *m3uPath,
			PauseCaching: *pause,
		}
		if a.Name == "" {
			fatal(eng.log, fmt.Errorf("missing -name"))
		}
		if err := eng.store.SaveAccount(a); err != nil {
			fatal(eng.log, err)
		}
		eng.log.Info().Int64("id", a.ID).Str("name", a.Name).Msg("account saved")
		printJSON(a)

	case "list":
		accounts, err := eng.store.Accounts()
		if err != nil {
			fatal(eng.log, err)
		}
		printJSON(accounts)

	case "delete":
		fs := flag.NewFlagSet("account delete", flag.ExitOnError)
		ref := fs.String("account", "", "Account id or name")
		_ = fs.Parse(args[1:])
		a, err := eng.accountByRef(*ref)
		if err != nil {
			fatal(eng.log, err)
		}
		if err := eng.store.DeleteAccount(a.ID); err != nil {
			fatal(eng.log, err)
		}
		eng.log.Info().Int64("id", a.ID).Str("name", a.Name).Msg("account deleted")

	default:
		fmt.Fprintf(os.Stderr, "Usage: %s account <add|list|delete> [flags]\n", os.Args[0])
		os.Exit(1)
	}
}

// withMode loads the account and applies the -mode flag for this invocation.
func withMode(eng *engine, ref, mode string) (*account.Account, error) {
	a, err := eng.accountByRef(ref)
	if err != nil {
		return nil, err
	}
	m, err := parseMode(mode)
	if err != nil {
		return nil, err
	}
	a.Mode = m
	return a, nil
}

func runCategories(ctx context.Context, eng *engine, args []string) {
	fs := flag.NewFlagSet("categories", flag.ExitOnError)
	ref := fs.String("account", "", "Account id or name")
	mode := fs.String("mode", "live", "Browsing mode: live, vod, series")
	_ = fs.Parse(args)
	a, err := withMode(eng, *ref, *mode)
	if err != nil {
		fatal(eng.log, err)
	}
	cats, err := eng.catalog.Categories(ctx, a)
	if err != nil {
		fatal(eng.log, err)
	}
	printJSON(cats)
}

func runChannels(ctx context.Context, eng *engine, args []string) {
	fs := flag.NewFlagSet("channels", flag.ExitOnError)
	ref := fs.String("account", "", "Account id or name")
	mode := fs.String("mode", "live", "Browsing mode: live, vod, series")
	category := fs.String("category", "", "Category id")
	_ = fs.Parse(args)
	a, err := withMode(eng, *ref, *mode)
	if err != nil {
		fatal(eng.log, err)
	}
	if *category == "" {
		fatal(eng.log, fmt.Errorf("missing -category"))
	}
	chans, err := eng.catalog.Channels(ctx, a, *category)
	if err != nil {
		fatal(eng.log, err)
	}
	printJSON(chans)
}

func runEpisodes(ctx context.Context, eng *engine, args []string) {
	fs := flag.NewFlagSet("episodes", flag.ExitOnError)
	ref := fs.String("account", "", "Account id or name")
	category := fs.String("category", "", "Category id")
	series := fs.String("series", "", "Series id")
	_ = fs.Parse(args)
	a, err := withMode(eng, *ref, "series")
	if err != nil {
		fatal(eng.log, err)
	}
	if *category == "" || *series == "" {
		fatal(eng.log, fmt.Errorf("missing -category or -series"))
	}
	eps, err := eng.catalog.SeriesEpisodes(ctx, a, *category, *series)
	if err != nil {
		fatal(eng.log, err)
	}
	printJSON(eps)
}

func runResolve(ctx context.Context, eng *engine, args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	ref := fs.String("account", "", "Account id or name")
	mode := fs.String("mode", "live", "Browsing mode: live, vod, series")
	category := fs.String("category", "", "Category id")
	channelID := fs.String("channel", "", "Channel / VOD id (or episode id in series mode)")
	series := fs.String("series", "", "Parent series id (series mode)")
	_ = fs.Parse(args)
	a, err := withMode(eng, *ref, *mode)
	if err != nil {
		fatal(eng.log, err)
	}
	if *category == "" || *channelID == "" {
		fatal(eng.log, fmt.Errorf("missing -category or -channel"))
	}
	resp, err := resolvePlayback(ctx, eng, a, *category, *channelID, *series)
	if err != nil {
		fatal(eng.log, err)
	}
	printJSON(resp)
}

// resolvePlayback looks the channel (or episode) up in the cache-backed
// catalog and resolves its playable URL.
func resolvePlayback(ctx context.Context, eng *engine, a *account.Account, categoryID, channelID, seriesID string) (*playback.Response, error) {
	var ch *account.Channel
	if a.Mode == account.ModeSeries && seriesID != "" {
		eps, err := eng.catalog.SeriesEpisodes(ctx, a, categoryID, seriesID)
		if err != nil {
			return nil, err
		}
		ch = findChannel(eps, channelID)
	} else {
		chans, err := eng.catalog.Channels(ctx, a, categoryID)
		if err != nil {
			return nil, err
		}
		ch = findChannel(chans, channelID)
	}
	if ch == nil {
		return nil, fmt.Errorf("channel %q not found in category %q", channelID, categoryID)
	}

	req := playback.Request{
		Channel:        ch,
		ParentSeriesID: seriesID,
		CategoryID:     categoryID,
	}
	if a.Mode == account.ModeSeries {
		req.SeriesParam = seriesParamFor(ch)
	}
	return eng.resolver.Resolve(ctx, a, req)
}

// seriesParamFor picks the create_link series value: the explicit episode
// number when the provider carries one; Stalker episode rows encode the
// number as their channel id instead.
func seriesParamFor(ch *account.Channel) string {
	if ch.EpisodeNum != "" {
		return ch.EpisodeNum
	}
	return ch.ChannelID
}

func findChannel(chans []account.Channel, id string) *account.Channel {
	for i := range chans {
		if chans[i].ChannelID == id {
			return &chans[i]
		}
	}
	return nil
}

func runReload(ctx context.Context, eng *engine, args []string) {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	ref := fs.String("account", "", "Account id or name")
	_ = fs.Parse(args)
	a, err := eng.accountByRef(*ref)
	if err != nil {
		fatal(eng.log, err)
	}
	start := time.Now()
	if err := eng.catalog.ReloadAll(ctx, a); err != nil {
		fatal(eng.log, err)
	}
	eng.log.Info().Str("account", a.Name).Dur("took", time.Since(start)).Msg("catalog reloaded")
}

func runVerifyMac(ctx context.Context, eng *engine, args []string) {
	fs := flag.NewFlagSet("verify-mac", flag.ExitOnError)
	ref := fs.String("account", "", "Account id or name")
	mac := fs.String("mac", "", "Candidate MAC address")
	_ = fs.Parse(args)
	a, err := eng.accountByRef(*ref)
	if err != nil {
		fatal(eng.log, err)
	}
	ok := eng.catalog.VerifyMac(ctx, a, *mac)
	printJSON(map[string]any{"mac": *mac, "ok": ok})
	if !ok {
		os.Exit(1)
	}
}

func runWatched(eng *engine, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s watched <list|mark|clear> [flags]\n", os.Args[0])
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("watched list", flag.ExitOnError)
		ref := fs.String("account", "", "Account id or name")
		_ = fs.Parse(args[1:])
		a, err := eng.accountByRef(*ref)
		if err != nil {
			fatal(eng.log, err)
		}
		states, err := eng.tracker.ByAccount(a.ID)
		if err != nil {
			fatal(eng.log, err)
		}
		printJSON(states)

	case "mark":
		fs := flag.NewFlagSet("watched mark", flag.ExitOnError)
		ref := fs.String("account", "", "Account id or name")
		category := fs.String("category", "", "Category id")
		series := fs.String("series", "", "Series id")
		episode := fs.String("episode", "", "Episode id")
		name := fs.String("name", "", "Episode name (season/episode inferred when numbers are blank)")
		season := fs.String("season", "", "Season number")
		num := fs.String("num", "", "Episode number")
		ifNewer := fs.Bool("if-newer", false, "Only advance, never rewind")
		_ = fs.Parse(args[1:])
		a, err := withMode(eng, *ref, "series")
		if err != nil {
			fatal(eng.log, err)
		}
		if *series == "" || *episode == "" {
			fatal(eng.log, fmt.Errorf("missing -series or -episode"))
		}
		mark := eng.tracker.MarkManual
		if *ifNewer {
			mark = eng.tracker.MarkManualIfNewer
		}
		if err := mark(a, *category, *series, *episode, *name, *season, *num); err != nil {
			fatal(eng.log, err)
		}
		eng.log.Info().Str("series", *series).Str("episode", *episode).Msg("watch pointer updated")

	case "clear":
		fs := flag.NewFlagSet("watched clear", flag.ExitOnError)
		ref := fs.String("account", "", "Account id or name")
		category := fs.String("category", "", "Category id (with -series)")
		series := fs.String("series", "", "Series id; empty clears the whole account")
		_ = fs.Parse(args[1:])
		a, err := eng.accountByRef(*ref)
		if err != nil {
			fatal(eng.log, err)
		}
		if *series == "" {
			err = eng.tracker.ClearAccount(a.ID)
		} else {
			err = eng.tracker.Clear(a.ID, *category, *series)
		}
		if err != nil {
			fatal(eng.log, err)
		}
		eng.log.Info().Str("series", *series).Msg("watch state cleared")

	default:
		fmt.Fprintf(os.Stderr, "Usage: %s watched <list|mark|clear> [flags]\n", os.Args[0])
		os.Exit(1)
	}
}
