package cataloger

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/uiptv/uiptv/internal/account"
	"github.com/uiptv/uiptv/internal/session"
)

const (
	uncategorizedID   = "uncategorized"
	uncategorizedName = "Uncategorized"
)

// ReloadAll performs the Stalker bulk refresh: clear the account's catalog
// cache, fetch the official genre tree and the full live channel dump
// (get_all_channels), then partition channels into their genres with an
// Uncategorized bucket for rows whose genre id matches no category.
// Only meaningful for Stalker accounts; other kinds just get their cache
// cleared so the next read reloads.
func (s *Service) ReloadAll(ctx context.Context, a *account.Account) error {
	if err := s.store.ClearCatalog(ctx, a.ID); err != nil {
		return err
	}
	if a.Type != account.StalkerPortal {
		return nil
	}
	origMode := a.Mode
	a.Mode = account.ModeLive
	defer func() { a.Mode = origMode }()

	ad := &stalkerAdapter{svc: s}
	cats, err := ad.FetchCategories(ctx, a)
	if err != nil {
		s.log.Warn().Err(err).Str("account", a.Name).Msg("bulk reload: category fetch failed")
		return nil
	}
	cats = s.filterCategories(cats)
	byID := make(map[string]bool, len(cats))
	for _, c := range cats {
		byID[c.CategoryID] = true
	}

	body, err := s.portal.Fetch(ctx, a, url.Values{
		"type":     {"itv"},
		"action":   {"get_all_channels"},
		"p":        {"1"},
		"per_page": {"99999"},
	})
	if err != nil {
		s.log.Warn().Err(err).Str("account", a.Name).Msg("bulk reload: channel dump failed")
		return nil
	}
	var page stalkerPage
	if err := session.DecodeJS(body, &page); err != nil {
		// Some portals return the data array directly without the envelope.
		if err2 := json.Unmarshal(body, &page); err2 != nil {
			s.log.Warn().Err(err).Str("account", a.Name).Msg("bulk reload: channel dump parse failed")
			return nil
		}
	}
	all := s.filterChannels(ad.parsePage(a, &page))

	byCategory := make(map[string][]account.Channel)
	var unmatched []account.Channel
	for _, ch := range all {
		if ch.CategoryID != "" && byID[ch.CategoryID] {
			byCategory[ch.CategoryID] = append(byCategory[ch.CategoryID], ch)
		} else {
			unmatched = append(unmatched, ch)
		}
	}
	if len(unmatched) > 0 && !hasUncategorized(cats) {
		cats = append(cats, account.Category{
			AccountID:  a.ID,
			CategoryID: uncategorizedID,
			Title:      uncategorizedName,
		})
	}

	if err := s.store.ReplaceCategories(ctx, a.ID, a.Mode, cats); err != nil {
		return err
	}
	for catID, chans := range byCategory {
		if err := s.store.ReplaceChannels(ctx, a.ID, a.Mode, catID, chans); err != nil {
			return err
		}
	}
	if len(unmatched) > 0 {
		if err := s.store.ReplaceChannels(ctx, a.ID, a.Mode, uncategorizedID, unmatched); err != nil {
			return err
		}
	}
	s.log.Info().Str("account", a.Name).Int("categories", len(cats)).Int("channels", len(all)).Msg("bulk reload complete")
	return nil
}

func hasUncategorized(cats []account.Category) bool {
	for _, c := range cats {
		if c.CategoryID == uncategorizedID || c.Title == uncategorizedName {
			return true
		}
	}
	return false
}

// VerifyMac checks whether a MAC address is accepted by the account's
// portal: temporarily swap it in, handshake, and try a category fetch. The
// account's own MAC and token are restored afterwards.
func (s *Service) VerifyMac(ctx context.Context, a *account.Account, mac string) bool {
	if a.Type != account.StalkerPortal || mac == "" {
		return false
	}
	origMac, origToken := a.MacAddress, a.Token
	defer func() {
		a.MacAddress, a.Token = origMac, origToken
	}()
	a.MacAddress = mac
	a.Token = ""
	ad := &stalkerAdapter{svc: s}
	cats, err := ad.FetchCategories(ctx, a)
	return err == nil && len(cats) > 0
}
