package subtitles

import (
	"fmt"
	"regexp"
	"strconv"
)

var episodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)S(\d{1,2})E(\d{1,3})`),
	regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{1,3})\b`),
}

// FormatEpisode renders a canonical SxxEyy code.
func FormatEpisode(season, episode int) string {
	return fmt.Sprintf("S%02dE%02d", season, episode)
}

// ParseEpisodeCode extracts a canonical episode code from a filename.
// Accepts SxxEyy and NxNN forms. Returns "" when none is found.
func ParseEpisodeCode(name string) string {
	for _, pattern := range episodePatterns {
		if m := pattern.FindStringSubmatch(name); m != nil {
			season, err := strconv.Atoi(m[1])
			if err != nil || season == 0 {
				continue
			}
			episode, err := strconv.Atoi(m[2])
			if err != nil || episode == 0 {
				continue
			}
			return FormatEpisode(season, episode)
		}
	}
	return ""
}

// SplitEpisodeCode breaks SxxEyy into its season and episode numbers.
func SplitEpisodeCode(code string) (season, episode int, ok bool) {
	m := episodePatterns[0].FindStringSubmatch(code)
	if m == nil {
		return 0, 0, false
	}
	season, _ = strconv.Atoi(m[1])
	episode, _ = strconv.Atoi(m[2])
	return season, episode, season > 0 && episode > 0
}
