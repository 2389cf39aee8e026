package subtitles

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

const fakeSubtitle = `1
00:00:01,000 --> 00:00:03,000
Unique dialogue for this episode.
`

type fakeProvider struct {
	name    string
	have    map[string]string
	err     error
	fetches int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, show string, season, episode int) (string, error) {
	f.fetches++
	if f.err != nil {
		return "", f.err
	}
	content, ok := f.have[FormatEpisode(season, episode)]
	if !ok {
		return "", ErrNotFound
	}
	return content, nil
}

func TestCacheRoundTrip(t *testing.T) {
	cache := NewCache(t.TempDir())

	path, err := cache.Save("Star Trek: Picard", "S01E03", fakeSubtitle)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := cache.List("Star Trek: Picard", 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if found["S01E03"] != path {
		t.Fatalf("List = %v, want S01E03 at %s", found, path)
	}

	otherSeason, err := cache.List("Star Trek: Picard", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(otherSeason) != 0 {
		t.Fatalf("season filter leaked: %v", otherSeason)
	}
}

func TestBuildFromCompleteCache(t *testing.T) {
	cache := NewCache(t.TempDir())
	for episode := 1; episode <= 3; episode++ {
		if _, err := cache.Save("The Wire", FormatEpisode(4, episode), fakeSubtitle); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	provider := &fakeProvider{name: "remote"}
	builder := NewBuilder(cache, []Provider{provider}, nil)

	corpus, err := builder.Build(context.Background(), "The Wire", 4, 3, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !corpus.Complete() {
		t.Fatalf("corpus should be complete: %+v", corpus)
	}
	if provider.fetches != 0 {
		t.Fatalf("complete cache still hit provider %d times", provider.fetches)
	}
	if len(corpus.Episodes) != 3 {
		t.Fatalf("episode count = %d, want 3", len(corpus.Episodes))
	}
}

func TestBuildFetchesMissingEpisodes(t *testing.T) {
	cache := NewCache(t.TempDir())
	if _, err := cache.Save("The Wire", "S04E01", fakeSubtitle); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	provider := &fakeProvider{
		name: "remote",
		have: map[string]string{"S04E02": fakeSubtitle, "S04E03": fakeSubtitle},
	}
	builder := NewBuilder(cache, []Provider{provider}, nil)

	var last Progress
	corpus, err := builder.Build(context.Background(), "The Wire", 4, 3, func(p Progress) { last = p })
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(corpus.Episodes) != 3 {
		t.Fatalf("episode count = %d, want 3", len(corpus.Episodes))
	}
	if last.Downloaded != 3 || last.Total != 3 || last.Failed != 0 {
		t.Fatalf("final progress = %+v", last)
	}

	// The fetched episodes are now cached for the next disc of the season.
	cached, err := cache.List("The Wire", 4)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(cached) != 3 {
		t.Fatalf("cache size after build = %d, want 3", len(cached))
	}
}

func TestBuildDegradesToPartialCorpus(t *testing.T) {
	cache := NewCache(t.TempDir())
	if _, err := cache.Save("The Wire", "S04E01", fakeSubtitle); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	provider := &fakeProvider{name: "remote"} // has nothing
	builder := NewBuilder(cache, []Provider{provider}, nil)

	corpus, err := builder.Build(context.Background(), "The Wire", 4, 3, nil)
	if err != nil {
		t.Fatalf("partial coverage must not fail the build: %v", err)
	}
	if corpus.Complete() {
		t.Fatal("corpus with missing episodes reported complete")
	}
	if len(corpus.Episodes) != 1 {
		t.Fatalf("episode count = %d, want 1", len(corpus.Episodes))
	}
	if len(corpus.Failed) != 2 {
		t.Fatalf("failed = %v, want 2 entries", corpus.Failed)
	}
}

func TestBuildTriesProvidersInOrder(t *testing.T) {
	cache := NewCache(t.TempDir())
	outage := &fakeProvider{name: "primary", err: errors.New("service unavailable")}
	backup := &fakeProvider{
		name: "secondary",
		have: map[string]string{"S01E01": fakeSubtitle},
	}
	builder := NewBuilder(cache, []Provider{outage, backup}, nil)

	corpus, err := builder.Build(context.Background(), "Firefly", 1, 1, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(corpus.Episodes) != 1 {
		t.Fatalf("backup provider not used: %+v", corpus)
	}
	if outage.fetches != 1 || backup.fetches != 1 {
		t.Fatalf("fetch counts = %d/%d, want 1/1", outage.fetches, backup.fetches)
	}
}

func TestBuildUnknownCanonicalCountUsesCacheOnly(t *testing.T) {
	cache := NewCache(t.TempDir())
	for episode := 1; episode <= 2; episode++ {
		if _, err := cache.Save("Firefly", FormatEpisode(1, episode), fakeSubtitle); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	provider := &fakeProvider{name: "remote", have: map[string]string{"S01E03": fakeSubtitle}}
	builder := NewBuilder(cache, []Provider{provider}, nil)

	corpus, err := builder.Build(context.Background(), "Firefly", 1, 0, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if provider.fetches != 0 {
		t.Fatal("unknown canonical count must not trigger provider fetches")
	}
	if !corpus.Complete() {
		t.Fatal("non-empty cache-only corpus should report complete")
	}
	if len(corpus.Episodes) != 2 {
		t.Fatalf("episode count = %d, want 2", len(corpus.Episodes))
	}
}

func TestEpisodePathLayout(t *testing.T) {
	cache := NewCache("/var/cache/engram")
	path := cache.EpisodePath("Star Trek: Picard", "S01E03")
	want := fmt.Sprintf("/var/cache/engram/data/star_trek_picard/%s", "Star Trek Picard - S01E03.srt")
	if path != want {
		t.Fatalf("EpisodePath = %q, want %q", path, want)
	}
}
