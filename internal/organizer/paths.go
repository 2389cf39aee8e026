// Package organizer computes library destinations from the naming grammar
// and moves ripped files into place with per-title conflict handling.
package organizer

import (
	"fmt"
	"path/filepath"

	"engram/internal/subtitles"
	"engram/internal/textutil"
)

// Library holds the two destination roots.
type Library struct {
	MoviesRoot string
	TVRoot     string
}

// displayName sanitizes and title-cases a raw detected name for use in
// paths and filenames.
func displayName(name string) string {
	return textutil.TitleCase(textutil.SanitizeName(name))
}

// MoviePath returns `<movies>/<Name> (<year>)/<Name> (<year>).mkv`, or the
// yearless variant when year is zero.
func (l Library) MoviePath(name string, year int) string {
	display := displayName(name)
	if year > 0 {
		display = fmt.Sprintf("%s (%d)", display, year)
	}
	return filepath.Join(l.MoviesRoot, display, display+".mkv")
}

// EpisodePath returns `<tv>/<Show>/Season <ss>/<Show> - SxxEyy.mkv`.
func (l Library) EpisodePath(show, episodeCode string) string {
	display := displayName(show)
	season, _, ok := subtitles.SplitEpisodeCode(episodeCode)
	if !ok {
		season = 0
	}
	return filepath.Join(
		l.TVRoot,
		display,
		fmt.Sprintf("Season %02d", season),
		fmt.Sprintf("%s - %s.mkv", display, episodeCode),
	)
}

// ExtraPath returns `<tv>/<Show>/Season <ss>/Extras/Disc <n>/extra_<i>.mkv`.
func (l Library) ExtraPath(show string, season, disc, index int) string {
	return filepath.Join(
		l.TVRoot,
		displayName(show),
		fmt.Sprintf("Season %02d", season),
		"Extras",
		fmt.Sprintf("Disc %d", disc),
		fmt.Sprintf("extra_%d.mkv", index),
	)
}
