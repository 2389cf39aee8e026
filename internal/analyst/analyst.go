// Package analyst classifies a scanned disc as a TV season disc, a movie,
// or unknown, from title durations and the volume label, optionally
// corroborated by a TMDB lookup.
package analyst

import (
	"fmt"
	"log/slog"
	"sort"

	"engram/internal/logging"
	"engram/internal/store"
)

// TitleInfo is one scanned title as reported by the rip tool.
type TitleInfo struct {
	Index           int
	DurationSeconds int
	SizeBytes       int64
	ChapterCount    int
	Name            string
	Resolution      string
}

// TMDBSignal is an optional external corroboration of the disc's identity.
type TMDBSignal struct {
	ContentType store.ContentType
	Confidence  float64
	Name        string
	ID          int64
}

// Result is the analyst's verdict for one disc.
type Result struct {
	ContentType    store.ContentType
	Confidence     float64
	DetectedName   string
	DetectedSeason int
	DetectedYear   int
	DetectedDisc   int
	NeedsReview    bool
	ReviewReason   string
	PlayAllIndices []int
	EpisodeIndices []int
}

// Thresholds are the tunable classification knobs, taken from settings.
type Thresholds struct {
	MovieMinDuration        int
	TVMinDuration           int
	TVMaxDuration           int
	TVDurationVariance      int
	TVMinClusterSize        int
	MovieDominanceThreshold float64
}

// ThresholdsFromSettings copies the analyst knobs out of a settings snapshot.
func ThresholdsFromSettings(settings *store.Settings) Thresholds {
	return Thresholds{
		MovieMinDuration:        settings.MovieMinDuration,
		TVMinDuration:           settings.TVMinDuration,
		TVMaxDuration:           settings.TVMaxDuration,
		TVDurationVariance:      settings.TVDurationVariance,
		TVMinClusterSize:        settings.TVMinClusterSize,
		MovieDominanceThreshold: settings.MovieDominanceThreshold,
	}
}

// Analyst applies the duration and label heuristics.
type Analyst struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// New creates an Analyst with the given thresholds.
func New(thresholds Thresholds, logger *slog.Logger) *Analyst {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyst{
		thresholds: thresholds,
		logger:     logging.NewComponentLogger(logger, "analyst"),
	}
}

// Classify runs the heuristics over the scanned titles and the volume label.
// The TMDB signal may be nil.
func (a *Analyst) Classify(titles []TitleInfo, volumeLabel string, signal *TMDBSignal) Result {
	parsed := ParseLabel(volumeLabel)
	result := Result{
		ContentType:    store.ContentUnknown,
		DetectedName:   parsed.Name,
		DetectedSeason: parsed.Season,
		DetectedYear:   parsed.Year,
		DetectedDisc:   parsed.Disc,
	}

	if len(titles) == 0 {
		result.NeedsReview = true
		result.ReviewReason = "No titles"
		return result
	}

	cluster := a.episodeCluster(titles)
	episodes := a.episodeWindowTitles(titles)
	longTitles := a.longTitles(titles)
	labelHasSeason := parsed.Season > 0

	switch {
	case len(cluster) >= a.thresholds.TVMinClusterSize || labelHasSeason:
		a.classifyTV(&result, titles, episodes, cluster, labelHasSeason, signal)
	case len(longTitles) == 1 && a.dominates(longTitles[0], titles):
		result.ContentType = store.ContentMovie
		result.Confidence = 0.85
	case len(longTitles) >= 2:
		result.ContentType = store.ContentMovie
		result.Confidence = 0.55
		result.NeedsReview = true
		result.ReviewReason = "Multiple long titles"
	default:
		result.ContentType = store.ContentUnknown
		result.Confidence = 0.5
		result.NeedsReview = true
		result.ReviewReason = "No clear episode cluster or feature-length title"
	}

	a.applySignal(&result, signal)

	if result.ContentType == store.ContentTV && result.DetectedName == "" && !result.NeedsReview {
		result.NeedsReview = true
		result.ReviewReason = "Series name could not be determined"
	}

	a.logger.Info("classified disc",
		logging.String("content_type", string(result.ContentType)),
		logging.Float64("confidence", result.Confidence),
		logging.String("detected_title", result.DetectedName),
		logging.Int("detected_season", result.DetectedSeason),
		logging.Bool("needs_review", result.NeedsReview),
		logging.Int("episode_cluster", len(cluster)))
	return result
}

// classifyTV settles a TV verdict. The variance cluster is the detection
// signal; episode selection spans the whole duration window, since season
// discs mix regular and extended runtimes without ceasing to be episodes.
func (a *Analyst) classifyTV(result *Result, titles, episodes, cluster []TitleInfo, labelHasSeason bool, signal *TMDBSignal) {
	result.ContentType = store.ContentTV
	strong := len(cluster) >= a.thresholds.TVMinClusterSize ||
		(labelHasSeason && len(episodes) >= a.thresholds.TVMinClusterSize)

	switch {
	case strong && labelHasSeason:
		result.Confidence = 0.85
	case strong:
		result.Confidence = 0.8
	default:
		// Label-only TV signal.
		result.Confidence = 0.55
		if labelHasSeason {
			result.Confidence = 0.6
		}
	}
	if strong && len(episodes) >= a.thresholds.TVMinClusterSize+2 {
		result.Confidence += 0.05
	}
	if signal != nil && signal.ContentType == store.ContentTV {
		result.Confidence += 0.05
	}
	if result.Confidence > 0.95 {
		result.Confidence = 0.95
	}

	if !strong {
		result.NeedsReview = true
		result.ReviewReason = fmt.Sprintf("Episode cluster too small (%d titles)", len(episodes))
	}

	for _, title := range episodes {
		result.EpisodeIndices = append(result.EpisodeIndices, title.Index)
	}
	result.PlayAllIndices = a.playAllIndices(titles, episodes)
}

// applySignal prefers a higher-confidence TMDB verdict over the heuristic
// one. A strong heuristic contradicted by a stronger signal earns review.
func (a *Analyst) applySignal(result *Result, signal *TMDBSignal) {
	if signal == nil || signal.ContentType == store.ContentUnknown {
		return
	}
	if signal.ContentType == result.ContentType {
		return
	}
	if signal.Confidence <= result.Confidence {
		return
	}
	heuristicsWereStrong := result.Confidence >= 0.8 && !result.NeedsReview
	result.ContentType = signal.ContentType
	result.Confidence = signal.Confidence
	if signal.Name != "" {
		result.DetectedName = signal.Name
	}
	if heuristicsWereStrong {
		result.NeedsReview = true
		result.ReviewReason = "External lookup contradicts duration heuristics"
	}
}

// episodeCluster returns the largest set of titles inside the TV duration
// window whose pairwise duration spread stays within the variance.
func (a *Analyst) episodeCluster(titles []TitleInfo) []TitleInfo {
	inWindow := make([]TitleInfo, 0, len(titles))
	for _, title := range titles {
		if title.DurationSeconds >= a.thresholds.TVMinDuration && title.DurationSeconds <= a.thresholds.TVMaxDuration {
			inWindow = append(inWindow, title)
		}
	}
	if len(inWindow) == 0 {
		return nil
	}
	sort.Slice(inWindow, func(i, j int) bool {
		return inWindow[i].DurationSeconds < inWindow[j].DurationSeconds
	})

	best := inWindow[:1]
	start := 0
	for end := 0; end < len(inWindow); end++ {
		for inWindow[end].DurationSeconds-inWindow[start].DurationSeconds > a.thresholds.TVDurationVariance {
			start++
		}
		if end-start+1 > len(best) {
			best = inWindow[start : end+1]
		}
	}
	cluster := make([]TitleInfo, len(best))
	copy(cluster, best)
	sort.Slice(cluster, func(i, j int) bool { return cluster[i].Index < cluster[j].Index })
	return cluster
}

// episodeWindowTitles returns every title inside the TV duration window,
// in index order.
func (a *Analyst) episodeWindowTitles(titles []TitleInfo) []TitleInfo {
	episodes := make([]TitleInfo, 0, len(titles))
	for _, title := range titles {
		if title.DurationSeconds >= a.thresholds.TVMinDuration && title.DurationSeconds <= a.thresholds.TVMaxDuration {
			episodes = append(episodes, title)
		}
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].Index < episodes[j].Index })
	return episodes
}

func (a *Analyst) longTitles(titles []TitleInfo) []TitleInfo {
	long := make([]TitleInfo, 0, 2)
	for _, title := range titles {
		if title.DurationSeconds >= a.thresholds.MovieMinDuration {
			long = append(long, title)
		}
	}
	return long
}

func (a *Analyst) dominates(candidate TitleInfo, titles []TitleInfo) bool {
	var total int
	for _, title := range titles {
		total += title.DurationSeconds
	}
	if total == 0 {
		return false
	}
	share := float64(candidate.DurationSeconds) / float64(total)
	return share >= a.thresholds.MovieDominanceThreshold
}

// playAllIndices finds concatenation titles: duration within [0.8S, 1.2S] of
// the episode-set sum S and longer than any single episode.
func (a *Analyst) playAllIndices(titles []TitleInfo, episodes []TitleInfo) []int {
	if len(episodes) == 0 {
		return nil
	}
	var sum, longest int
	inCluster := make(map[int]bool, len(episodes))
	for _, title := range episodes {
		sum += title.DurationSeconds
		if title.DurationSeconds > longest {
			longest = title.DurationSeconds
		}
		inCluster[title.Index] = true
	}
	low := 0.8 * float64(sum)
	high := 1.2 * float64(sum)

	var indices []int
	for _, title := range titles {
		if inCluster[title.Index] {
			continue
		}
		duration := float64(title.DurationSeconds)
		if duration >= low && duration <= high && title.DurationSeconds > longest {
			indices = append(indices, title.Index)
		}
	}
	return indices
}
