package watch

import (
	"regexp"
	"strconv"
	"strings"
)

// Episode numbering arrives in three shapes: explicit season/episode fields,
// compact "S01E02" markers, and spelled-out "Season 1 ... Episode 2" titles.
// The parsers below try the explicit value first and fall back to the title.
var (
	sxxEyyRe  = regexp.MustCompile(`(?i)\bS(\d{1,2})E(\d{1,3})\b`)
	seasonRe  = regexp.MustCompile(`(?i)\bseason\s*(\d+)\b|\bS(\d{1,2})(?:E\d|\b)|\b(\d{1,2})x\d{1,3}\b`)
	episodeRe = regexp.MustCompile(`(?i)\bepisode\s*(\d+)\b|\bE(\d{1,3})\b`)
)

// ParseEpisodeNum resolves an episode number from the explicit field or the
// title, 0 when neither carries one.
func ParseEpisodeNum(explicit, title string) int {
	if d := stripToDigits(explicit); d != "" {
		return atoi(d)
	}
	if m := sxxEyyRe.FindStringSubmatch(title); m != nil && m[2] != "" {
		return atoi(m[2])
	}
	if m := episodeRe.FindStringSubmatch(title); m != nil {
		if m[1] != "" {
			return atoi(m[1])
		}
		if m[2] != "" {
			return atoi(m[2])
		}
	}
	return 0
}

// ParseSeasonNum resolves a season number the same way.
func ParseSeasonNum(explicit, title string) int {
	n := NormalizeSeason(explicit, title)
	if n == "" {
		return 0
	}
	return atoi(n)
}

// NormalizeSeason returns the season as bare digits without leading zeros,
// or "" when unknown.
func NormalizeSeason(explicit, title string) string {
	if d := stripToDigits(explicit); d != "" {
		return strconv.Itoa(atoi(d))
	}
	if m := sxxEyyRe.FindStringSubmatch(title); m != nil && m[1] != "" {
		return strconv.Itoa(atoi(m[1]))
	}
	if m := seasonRe.FindStringSubmatch(title); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				return strconv.Itoa(atoi(g))
			}
		}
	}
	return ""
}

// ShouldAdvance decides whether a new (season, episode) pair moves the
// last-watched pointer forward. When both seasons are known the season
// ordering wins; otherwise only a higher episode number advances.
func ShouldAdvance(curSeason, curEpisode, nextSeason, nextEpisode int) bool {
	if nextSeason > 0 && curSeason > 0 {
		if nextSeason > curSeason {
			return true
		}
		if nextSeason < curSeason {
			return false
		}
		if nextEpisode <= 0 {
			return false
		}
		return curEpisode <= 0 || nextEpisode > curEpisode
	}
	if nextEpisode <= 0 {
		return false
	}
	return curEpisode <= 0 || nextEpisode > curEpisode
}

func stripToDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
