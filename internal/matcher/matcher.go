package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"engram/internal/logging"
	"engram/internal/subtitles"
	"engram/internal/textutil"
)

// Config holds the matcher tunables.
type Config struct {
	ChunkSeconds     int
	ChunkCount       int
	ChunkStartOffset int
	MinConfidence    float64
	MaxConcurrent    int
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSeconds:     60,
		ChunkCount:       3,
		ChunkStartOffset: 120,
		MinConfidence:    0.35,
		MaxConcurrent:    2,
	}
}

// TitleSource names one ripped file to identify.
type TitleSource struct {
	TitleID         int64
	TitleIndex      int
	Path            string
	DurationSeconds int
}

// ChunkResult records what one chunk contributed.
type ChunkResult struct {
	Chunk   Chunk   `json:"chunk"`
	Episode string  `json:"episode,omitempty"`
	Score   float64 `json:"score,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Candidate aggregates chunk votes for one episode.
type Candidate struct {
	Episode   string  `json:"episode"`
	VoteCount int     `json:"vote_count"`
	Score     float64 `json:"score"`
	Coverage  float64 `json:"file_coverage"`
}

// TitleMatch is the matcher's verdict for one title.
type TitleMatch struct {
	TitleID      int64         `json:"title_id"`
	TitleIndex   int           `json:"-"`
	Episode      string        `json:"episode,omitempty"`
	Confidence   float64       `json:"confidence"`
	VoteCount    int           `json:"vote_count"`
	Coverage     float64       `json:"file_coverage"`
	NeedsReview  bool          `json:"needs_review"`
	ReviewReason string        `json:"review_reason,omitempty"`
	Candidates   []Candidate   `json:"candidates,omitempty"`
	Chunks       []ChunkResult `json:"chunks,omitempty"`
}

// Matcher runs the fingerprint pipeline. Transcription is the expensive
// step; a weighted semaphore caps how many titles transcribe at once.
type Matcher struct {
	extractor   ChunkExtractor
	transcriber Transcriber
	cfg         Config
	sem         *semaphore.Weighted
	logger      *slog.Logger
}

// New wires a Matcher.
func New(extractor ChunkExtractor, transcriber Transcriber, cfg Config, logger *slog.Logger) *Matcher {
	if cfg.ChunkSeconds <= 0 {
		cfg.ChunkSeconds = 60
	}
	if cfg.ChunkCount <= 0 {
		cfg.ChunkCount = 3
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Matcher{
		extractor:   extractor,
		transcriber: transcriber,
		cfg:         cfg,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:      logging.NewComponentLogger(logger, "matcher"),
	}
}

// MatchTitles identifies every title against the reference corpus and then
// resolves cross-title conflicts. Results come back in input order.
func (m *Matcher) MatchTitles(ctx context.Context, titles []TitleSource, corpus *subtitles.Corpus) ([]*TitleMatch, error) {
	refs := NewReferenceSet(corpus)
	if refs.Size() == 0 {
		matches := make([]*TitleMatch, len(titles))
		for i, title := range titles {
			matches[i] = &TitleMatch{
				TitleID:      title.TitleID,
				NeedsReview:  true,
				ReviewReason: "No reference subtitles available for this season",
			}
		}
		return matches, nil
	}

	matches := make([]*TitleMatch, len(titles))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, title := range titles {
		i, title := i, title
		group.Go(func() error {
			if err := m.sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer m.sem.Release(1)
			match, err := m.matchOne(groupCtx, title, refs)
			if err != nil {
				return err
			}
			matches[i] = match
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	m.ResolveConflicts(matches)
	return matches, nil
}

// matchOne runs the chunk pipeline for a single title. Only context errors
// propagate; every per-chunk failure degrades to fewer votes and, at worst,
// a review verdict.
func (m *Matcher) matchOne(ctx context.Context, title TitleSource, refs *ReferenceSet) (*TitleMatch, error) {
	match := &TitleMatch{TitleID: title.TitleID, TitleIndex: title.TitleIndex}

	chunks := PlanChunks(title.DurationSeconds, m.cfg.ChunkSeconds, m.cfg.ChunkCount, m.cfg.ChunkStartOffset)
	if len(chunks) == 0 {
		match.NeedsReview = true
		match.ReviewReason = "Title too short to fingerprint"
		return match, nil
	}

	workDir, err := os.MkdirTemp("", "engram-match-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := m.scoreChunk(ctx, title.Path, chunk, workDir, refs)
		match.Chunks = append(match.Chunks, result)
	}

	m.aggregate(match, title.DurationSeconds)
	return match, nil
}

func (m *Matcher) scoreChunk(ctx context.Context, path string, chunk Chunk, workDir string, refs *ReferenceSet) ChunkResult {
	result := ChunkResult{Chunk: chunk}

	wavPath := filepath.Join(workDir, fmt.Sprintf("chunk_%02d.wav", chunk.Index))
	if err := m.extractor.Extract(ctx, path, chunk, wavPath); err != nil {
		m.logger.Warn("chunk extraction failed",
			logging.String("file", path),
			logging.Int("chunk", chunk.Index),
			logging.Error(err))
		result.Error = err.Error()
		return result
	}

	transcript, err := m.transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		m.logger.Warn("chunk transcription failed",
			logging.String("file", path),
			logging.Int("chunk", chunk.Index),
			logging.Error(err))
		result.Error = err.Error()
		return result
	}

	fp := textutil.NewFingerprint(transcript)
	if fp == nil {
		result.Error = "transcript yielded no usable tokens"
		return result
	}
	result.Episode, result.Score = refs.Best(fp)
	return result
}

// aggregate folds chunk votes into per-episode candidates and picks the
// winner by (vote_count, score, file_coverage), all descending.
func (m *Matcher) aggregate(match *TitleMatch, durationSeconds int) {
	byEpisode := make(map[string]*Candidate)
	ranges := make(map[string][][2]int)
	usable := 0
	for _, chunk := range match.Chunks {
		if chunk.Error != "" {
			continue
		}
		usable++
		if chunk.Episode == "" || chunk.Score <= 0 {
			continue
		}
		candidate, ok := byEpisode[chunk.Episode]
		if !ok {
			candidate = &Candidate{Episode: chunk.Episode}
			byEpisode[chunk.Episode] = candidate
		}
		candidate.VoteCount++
		if chunk.Score > candidate.Score {
			candidate.Score = chunk.Score
		}
		ranges[chunk.Episode] = append(ranges[chunk.Episode],
			[2]int{chunk.Chunk.StartSeconds, chunk.Chunk.StartSeconds + chunk.Chunk.SpanSeconds})
	}

	if usable == 0 {
		match.NeedsReview = true
		match.ReviewReason = "No audio chunks produced usable transcripts"
		return
	}
	if len(byEpisode) == 0 {
		match.NeedsReview = true
		match.ReviewReason = "Transcripts did not resemble any reference episode"
		return
	}

	for code, candidate := range byEpisode {
		candidate.Coverage = coveredFraction(ranges[code], durationSeconds)
		match.Candidates = append(match.Candidates, *candidate)
	}
	sort.Slice(match.Candidates, func(i, j int) bool {
		return rankHigher(match.Candidates[i], match.Candidates[j])
	})

	winner := match.Candidates[0]
	match.VoteCount = winner.VoteCount
	match.Coverage = winner.Coverage
	match.Confidence = winner.Score
	if winner.Score < m.cfg.MinConfidence {
		match.NeedsReview = true
		match.ReviewReason = fmt.Sprintf("Best candidate %s scored %.2f, below the %.2f floor",
			winner.Episode, winner.Score, m.cfg.MinConfidence)
		return
	}
	match.Episode = winner.Episode
}

// rankHigher orders candidates by the voting key.
func rankHigher(a, b Candidate) bool {
	if a.VoteCount != b.VoteCount {
		return a.VoteCount > b.VoteCount
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Coverage > b.Coverage
}

// coveredFraction computes the union of matched time ranges over the title
// duration.
func coveredFraction(ranges [][2]int, durationSeconds int) float64 {
	if durationSeconds <= 0 || len(ranges) == 0 {
		return 0
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i][0] < ranges[j][0] })
	covered := 0
	currentStart, currentEnd := ranges[0][0], ranges[0][1]
	for _, r := range ranges[1:] {
		if r[0] <= currentEnd {
			if r[1] > currentEnd {
				currentEnd = r[1]
			}
			continue
		}
		covered += currentEnd - currentStart
		currentStart, currentEnd = r[0], r[1]
	}
	covered += currentEnd - currentStart

	fraction := float64(covered) / float64(durationSeconds)
	if fraction > 1 {
		fraction = 1
	}
	return fraction
}
