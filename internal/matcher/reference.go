package matcher

import (
	"sort"

	"engram/internal/subtitles"
	"engram/internal/textutil"
)

// ReferenceSet holds one IDF-weighted fingerprint per reference episode.
// Building it once per job amortizes the tokenization over every title on
// the disc.
type ReferenceSet struct {
	episodes map[string]*textutil.Fingerprint
	idf      map[string]float64
}

// NewReferenceSet fingerprints a subtitle corpus. Episodes whose dialogue
// yields no usable tokens are dropped.
func NewReferenceSet(corpus *subtitles.Corpus) *ReferenceSet {
	set := &ReferenceSet{episodes: make(map[string]*textutil.Fingerprint)}
	if corpus == nil {
		return set
	}

	raw := make(map[string]*textutil.Fingerprint, len(corpus.Episodes))
	docs := textutil.NewCorpus()
	for code, dialogue := range corpus.Episodes {
		fp := textutil.NewFingerprint(dialogue)
		if fp == nil {
			continue
		}
		raw[code] = fp
		docs.Add(fp)
	}

	set.idf = docs.IDF()
	for code, fp := range raw {
		if weighted := fp.WithIDF(set.idf); weighted != nil {
			set.episodes[code] = weighted
		}
	}
	return set
}

// Size returns the number of usable reference episodes.
func (r *ReferenceSet) Size() int {
	return len(r.episodes)
}

// Episodes returns the covered episode codes in order.
func (r *ReferenceSet) Episodes() []string {
	codes := make([]string, 0, len(r.episodes))
	for code := range r.episodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Best scores a transcript fingerprint against every episode and returns
// the top episode with its similarity. An empty set returns ("", 0).
func (r *ReferenceSet) Best(transcript *textutil.Fingerprint) (string, float64) {
	weighted := transcript.WithIDF(r.idf)
	bestCode := ""
	bestScore := 0.0
	for _, code := range r.Episodes() {
		score := weighted.Similarity(r.episodes[code])
		if score > bestScore {
			bestCode = code
			bestScore = score
		}
	}
	return bestCode, bestScore
}
