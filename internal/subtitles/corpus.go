// Package subtitles builds the reference corpus the matcher scores against:
// cached SRT files per show and season, topped up from remote providers.
package subtitles

import (
	"context"
	"errors"
	"log/slog"

	"engram/internal/logging"
)

// Corpus is the reference dialogue for one (show, season) pair.
type Corpus struct {
	Show      string
	Season    int
	Episodes  map[string]string // episode code -> dialogue text
	Canonical int               // canonical episode count, 0 when unknown
	Failed    []string          // episode codes no provider could supply
}

// Complete reports whether every canonical episode has dialogue. With an
// unknown canonical count, any non-empty corpus counts as complete.
func (c *Corpus) Complete() bool {
	if c.Canonical == 0 {
		return len(c.Episodes) > 0
	}
	return len(c.Episodes) >= c.Canonical
}

// Progress reports corpus download progress, suitable for a subtitle_event.
type Progress struct {
	Downloaded int
	Total      int
	Failed     int
}

// Builder assembles corpora from the cache and remote providers.
type Builder struct {
	cache     *Cache
	providers []Provider
	logger    *slog.Logger
}

// NewBuilder creates a Builder. Providers are queried in order; a nil or
// empty provider list restricts the corpus to cache contents.
func NewBuilder(cache *Cache, providers []Provider, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{
		cache:     cache,
		providers: providers,
		logger:    logging.NewComponentLogger(logger, "subtitles"),
	}
}

// Build assembles the corpus for a show and season. canonicalCount is the
// episode count from TMDB, or 0 when unknown; with a count, missing episodes
// are fetched from providers and written back to the cache. onProgress, when
// non-nil, is called after each episode is resolved.
func (b *Builder) Build(ctx context.Context, show string, season, canonicalCount int, onProgress func(Progress)) (*Corpus, error) {
	cached, err := b.cache.List(show, season)
	if err != nil {
		return nil, err
	}

	corpus := &Corpus{
		Show:      show,
		Season:    season,
		Episodes:  make(map[string]string),
		Canonical: canonicalCount,
	}

	total := canonicalCount
	if total == 0 {
		total = len(cached)
	}
	report := func() {
		if onProgress != nil {
			onProgress(Progress{Downloaded: len(corpus.Episodes), Total: total, Failed: len(corpus.Failed)})
		}
	}

	paths := make(map[string]string, len(cached))
	for code, path := range cached {
		paths[code] = path
	}

	if canonicalCount > 0 {
		for episode := 1; episode <= canonicalCount; episode++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			code := FormatEpisode(season, episode)
			if _, ok := paths[code]; ok {
				continue
			}
			path, fetchErr := b.fetchEpisode(ctx, show, season, episode, code)
			if fetchErr != nil {
				if errors.Is(fetchErr, context.Canceled) || errors.Is(fetchErr, context.DeadlineExceeded) {
					return nil, fetchErr
				}
				corpus.Failed = append(corpus.Failed, code)
				report()
				continue
			}
			paths[code] = path
			report()
		}
	}

	for code, path := range paths {
		text, readErr := DialogueText(path)
		if readErr != nil || text == "" {
			b.logger.Warn("unusable cached subtitle",
				logging.String("episode", code),
				logging.String("path", path),
				logging.Error(readErr))
			continue
		}
		corpus.Episodes[code] = text
	}
	report()

	b.logger.Info("reference corpus assembled",
		logging.String("show", show),
		logging.Int("season", season),
		logging.Int("episodes", len(corpus.Episodes)),
		logging.Int("canonical", canonicalCount),
		logging.Int("failed", len(corpus.Failed)))
	return corpus, nil
}

// fetchEpisode tries each provider in order and caches the first hit.
func (b *Builder) fetchEpisode(ctx context.Context, show string, season, episode int, code string) (string, error) {
	var lastErr error = ErrNotFound
	for _, provider := range b.providers {
		content, err := provider.Fetch(ctx, show, season, episode)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				b.logger.Warn("subtitle provider failed",
					logging.String("provider", provider.Name()),
					logging.String("episode", code),
					logging.Error(err))
			}
			lastErr = err
			continue
		}
		if len(ParseSRTContent(content)) == 0 {
			b.logger.Warn("provider returned unparseable subtitle",
				logging.String("provider", provider.Name()),
				logging.String("episode", code))
			lastErr = errors.New("unparseable subtitle")
			continue
		}
		return b.cache.Save(show, code, content)
	}
	return "", lastErr
}
