package matcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"engram/internal/subtitles"
)

const (
	dialogueE1 = "the heist crew assembles tonight beneath the abandoned cannery waterfront"
	dialogueE2 = "courtroom testimony unravels while the jury deliberates the verdict quietly"
	dialogueE3 = "wedding rehearsal collapses after the caterer vanishes with the deposit money"
)

func testCorpus() *subtitles.Corpus {
	return &subtitles.Corpus{
		Show:   "Test Show",
		Season: 1,
		Episodes: map[string]string{
			"S01E01": dialogueE1,
			"S01E02": dialogueE2,
			"S01E03": dialogueE3,
		},
	}
}

// scriptExtractor writes a canned transcript for each (title, chunk) into
// the destination file; readTranscriber reads it back. Together they stand
// in for ffmpeg plus the speech model.
type scriptExtractor struct {
	mu          sync.Mutex
	transcripts map[string][]string
	failChunks  map[string]map[int]bool
	extracted   int
}

func (e *scriptExtractor) Extract(ctx context.Context, inputPath string, chunk Chunk, destPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extracted++
	if e.failChunks[inputPath][chunk.Index] {
		return errors.New("ffmpeg failed: invalid data found when processing input")
	}
	lines, ok := e.transcripts[inputPath]
	if !ok || chunk.Index >= len(lines) {
		return fmt.Errorf("no scripted transcript for %s chunk %d", inputPath, chunk.Index)
	}
	return os.WriteFile(destPath, []byte(lines[chunk.Index]), 0o644)
}

type readTranscriber struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
	err     error
}

func (t *readTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	current := t.active.Add(1)
	defer t.active.Add(-1)
	for {
		seen := t.maxSeen.Load()
		if current <= seen || t.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	if t.err != nil {
		return "", t.err
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func testMatcher(extractor ChunkExtractor, transcriber Transcriber, cfg Config) *Matcher {
	return New(extractor, transcriber, cfg, nil)
}

func TestPlanChunks(t *testing.T) {
	chunks := PlanChunks(2700, 60, 3, 120)
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	wantStarts := []int{120, 1380, 2640}
	for i, chunk := range chunks {
		if chunk.StartSeconds != wantStarts[i] || chunk.SpanSeconds != 60 {
			t.Fatalf("chunk %d = %+v, want start %d span 60", i, chunk, wantStarts[i])
		}
	}

	short := PlanChunks(45, 60, 3, 120)
	if len(short) != 1 || short[0].StartSeconds != 0 || short[0].SpanSeconds != 45 {
		t.Fatalf("short title chunks = %+v", short)
	}

	// Offset past the usable range falls back to the start of the title.
	tight := PlanChunks(130, 60, 3, 120)
	if len(tight) != 3 || tight[0].StartSeconds != 0 {
		t.Fatalf("tight title chunks = %+v", tight)
	}
	if last := tight[len(tight)-1]; last.StartSeconds+last.SpanSeconds > 130 {
		t.Fatalf("chunk overruns title: %+v", last)
	}
}

func TestMatchTitlesIdentifiesEpisodes(t *testing.T) {
	extractor := &scriptExtractor{
		transcripts: map[string][]string{
			"/staging/title_t00.mkv": {dialogueE1, dialogueE1, dialogueE1},
			"/staging/title_t01.mkv": {dialogueE2, dialogueE2, dialogueE2},
		},
	}
	m := testMatcher(extractor, &readTranscriber{}, DefaultConfig())

	titles := []TitleSource{
		{TitleID: 1, TitleIndex: 0, Path: "/staging/title_t00.mkv", DurationSeconds: 2700},
		{TitleID: 2, TitleIndex: 1, Path: "/staging/title_t01.mkv", DurationSeconds: 2700},
	}
	matches, err := m.MatchTitles(context.Background(), titles, testCorpus())
	if err != nil {
		t.Fatalf("MatchTitles failed: %v", err)
	}

	if matches[0].Episode != "S01E01" || matches[0].NeedsReview {
		t.Fatalf("title 1 match = %+v", matches[0])
	}
	if matches[1].Episode != "S01E02" || matches[1].NeedsReview {
		t.Fatalf("title 2 match = %+v", matches[1])
	}
	if matches[0].VoteCount != 3 {
		t.Fatalf("vote count = %d, want 3", matches[0].VoteCount)
	}
	if matches[0].Coverage <= 0 {
		t.Fatalf("coverage = %f, want > 0", matches[0].Coverage)
	}
}

func TestMatchTitleBelowFloorGoesToReview(t *testing.T) {
	extractor := &scriptExtractor{
		transcripts: map[string][]string{
			"/staging/title_t00.mkv": {dialogueE1, dialogueE1, dialogueE1},
		},
	}
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.99
	m := testMatcher(extractor, &readTranscriber{}, cfg)

	titles := []TitleSource{{TitleID: 1, Path: "/staging/title_t00.mkv", DurationSeconds: 2700}}
	matches, err := m.MatchTitles(context.Background(), titles, testCorpus())
	if err != nil {
		t.Fatalf("MatchTitles failed: %v", err)
	}
	if !matches[0].NeedsReview || matches[0].Episode != "" {
		t.Fatalf("sub-floor match not routed to review: %+v", matches[0])
	}
	if matches[0].ReviewReason == "" {
		t.Fatal("review reason missing")
	}
}

func TestMatchTitleUnrelatedTranscript(t *testing.T) {
	gibberish := "zxqwv flrbm ploktn vregah smunti"
	extractor := &scriptExtractor{
		transcripts: map[string][]string{
			"/staging/title_t00.mkv": {gibberish, gibberish, gibberish},
		},
	}
	m := testMatcher(extractor, &readTranscriber{}, DefaultConfig())

	titles := []TitleSource{{TitleID: 1, Path: "/staging/title_t00.mkv", DurationSeconds: 2700}}
	matches, err := m.MatchTitles(context.Background(), titles, testCorpus())
	if err != nil {
		t.Fatalf("MatchTitles failed: %v", err)
	}
	if !matches[0].NeedsReview {
		t.Fatalf("unrelated transcript matched: %+v", matches[0])
	}
}

func TestChunkFailuresDegradeGracefully(t *testing.T) {
	extractor := &scriptExtractor{
		transcripts: map[string][]string{
			"/staging/title_t00.mkv": {"", dialogueE3, dialogueE3},
		},
		failChunks: map[string]map[int]bool{
			"/staging/title_t00.mkv": {0: true},
		},
	}
	m := testMatcher(extractor, &readTranscriber{}, DefaultConfig())

	titles := []TitleSource{{TitleID: 1, Path: "/staging/title_t00.mkv", DurationSeconds: 2700}}
	matches, err := m.MatchTitles(context.Background(), titles, testCorpus())
	if err != nil {
		t.Fatalf("MatchTitles failed: %v", err)
	}
	if matches[0].Episode != "S01E03" || matches[0].NeedsReview {
		t.Fatalf("surviving chunks did not carry the match: %+v", matches[0])
	}
	if matches[0].Chunks[0].Error == "" {
		t.Fatal("failed chunk not recorded")
	}
	if matches[0].VoteCount != 2 {
		t.Fatalf("vote count = %d, want 2", matches[0].VoteCount)
	}
}

func TestAllChunksFailedGoesToReview(t *testing.T) {
	transcriber := &readTranscriber{err: errors.New("model crashed")}
	extractor := &scriptExtractor{
		transcripts: map[string][]string{
			"/staging/title_t00.mkv": {dialogueE1, dialogueE1, dialogueE1},
		},
	}
	m := testMatcher(extractor, transcriber, DefaultConfig())

	titles := []TitleSource{{TitleID: 1, Path: "/staging/title_t00.mkv", DurationSeconds: 2700}}
	matches, err := m.MatchTitles(context.Background(), titles, testCorpus())
	if err != nil {
		t.Fatalf("MatchTitles failed: %v", err)
	}
	if !matches[0].NeedsReview {
		t.Fatalf("title with no transcripts not routed to review: %+v", matches[0])
	}
}

func TestEmptyCorpusRoutesAllToReview(t *testing.T) {
	m := testMatcher(&scriptExtractor{}, &readTranscriber{}, DefaultConfig())

	titles := []TitleSource{
		{TitleID: 1, Path: "/staging/title_t00.mkv", DurationSeconds: 2700},
		{TitleID: 2, Path: "/staging/title_t01.mkv", DurationSeconds: 2700},
	}
	empty := &subtitles.Corpus{Show: "Test Show", Season: 1, Episodes: map[string]string{}}
	matches, err := m.MatchTitles(context.Background(), titles, empty)
	if err != nil {
		t.Fatalf("MatchTitles failed: %v", err)
	}
	for _, match := range matches {
		if !match.NeedsReview {
			t.Fatalf("match without references not routed to review: %+v", match)
		}
	}
}

func TestTranscriptionConcurrencyCap(t *testing.T) {
	transcripts := make(map[string][]string)
	titles := make([]TitleSource, 0, 6)
	for i := 0; i < 6; i++ {
		path := fmt.Sprintf("/staging/title_t%02d.mkv", i)
		transcripts[path] = []string{dialogueE1, dialogueE1, dialogueE1}
		titles = append(titles, TitleSource{TitleID: int64(i + 1), TitleIndex: i, Path: path, DurationSeconds: 2700})
	}
	transcriber := &readTranscriber{delay: 5 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	m := testMatcher(&scriptExtractor{transcripts: transcripts}, transcriber, cfg)

	if _, err := m.MatchTitles(context.Background(), titles, testCorpus()); err != nil {
		t.Fatalf("MatchTitles failed: %v", err)
	}
	if max := transcriber.maxSeen.Load(); max > 2 {
		t.Fatalf("observed %d concurrent transcriptions, cap is 2", max)
	}
}

func TestResolveConflicts(t *testing.T) {
	m := testMatcher(&scriptExtractor{}, &readTranscriber{}, DefaultConfig())
	matches := []*TitleMatch{
		{TitleID: 1, Episode: "S01E02", VoteCount: 3, Confidence: 0.82},
		{TitleID: 2, Episode: "S01E02", VoteCount: 2, Confidence: 0.90},
		{TitleID: 3, Episode: "S01E03", VoteCount: 3, Confidence: 0.75},
	}

	m.ResolveConflicts(matches)

	if matches[0].Episode != "S01E02" || matches[0].NeedsReview {
		t.Fatalf("winner demoted: %+v", matches[0])
	}
	if matches[1].Episode != "" || !matches[1].NeedsReview {
		t.Fatalf("loser kept its claim: %+v", matches[1])
	}
	if matches[2].Episode != "S01E03" || matches[2].NeedsReview {
		t.Fatalf("uncontested match disturbed: %+v", matches[2])
	}
}

func TestResolveConflictsPrefersScoreOnEqualVotes(t *testing.T) {
	m := testMatcher(&scriptExtractor{}, &readTranscriber{}, DefaultConfig())
	matches := []*TitleMatch{
		{TitleID: 1, Episode: "S01E05", VoteCount: 2, Confidence: 0.60},
		{TitleID: 2, Episode: "S01E05", VoteCount: 2, Confidence: 0.85},
	}

	m.ResolveConflicts(matches)

	if matches[1].Episode != "S01E05" || matches[1].NeedsReview {
		t.Fatalf("higher score lost: %+v", matches[1])
	}
	if matches[0].Episode != "" || !matches[0].NeedsReview {
		t.Fatalf("lower score kept its claim: %+v", matches[0])
	}
}
