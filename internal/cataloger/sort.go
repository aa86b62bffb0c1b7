package cataloger

import (
	"sort"
	"strconv"
	"strings"

	"github.com/uiptv/uiptv/internal/account"
)

// sortBySeasonEpisode orders VOD/series rows by the numeric (season,
// episode) pair derived from "Season - Episode" style names, e.g.
// "Season 2 - Episode 14". Rows without parseable numbers keep their
// relative order at the front.
func sortBySeasonEpisode(chans []account.Channel) {
	sort.SliceStable(chans, func(i, j int) bool {
		si, ei := compareNumbers(chans[i].Name)
		sj, ej := compareNumbers(chans[j].Name)
		if si != sj {
			return si < sj
		}
		return ei < ej
	})
}

func compareNumbers(name string) (season, episode int) {
	parts := strings.SplitN(name, "-", 2)
	season = numericPart(parts[0])
	if len(parts) > 1 {
		episode = numericPart(parts[1])
	}
	return season, episode
}

func numericPart(s string) int {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "season", "")
	s = strings.ReplaceAll(s, "episode", "")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
