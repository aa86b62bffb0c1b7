package cataloger

import (
	"strings"

	"github.com/uiptv/uiptv/internal/account"
)

// filterCategories drops categories whose title contains a blocked word
// (case-insensitive) or that the provider flagged censored. A blank
// blocklist or a global pause disables filtering entirely.
func (s *Service) filterCategories(cats []account.Category) []account.Category {
	words := blockedWords(s.opts.FilterCategories)
	if len(words) == 0 || s.opts.PauseFiltering {
		return cats
	}
	out := make([]account.Category, 0, len(cats))
	for _, c := range cats {
		if c.Censored || containsAny(c.Title, words) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// filterChannels is the channel-side counterpart, matched against names.
func (s *Service) filterChannels(chans []account.Channel) []account.Channel {
	words := blockedWords(s.opts.FilterChannels)
	if len(words) == 0 || s.opts.PauseFiltering {
		return chans
	}
	out := make([]account.Channel, 0, len(chans))
	for _, c := range chans {
		if c.Censored == 1 || containsAny(c.Name, words) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func blockedWords(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsAny(name string, words []string) bool {
	lower := strings.ToLower(name)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
