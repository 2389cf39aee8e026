// Package textutil provides the text fingerprinting used by episode matching
// and the filename sanitization shared by the organizer and subtitle cache.
package textutil

import (
	"math"
	"regexp"
	"strings"
)

var (
	tokenSplitPattern = regexp.MustCompile(`[^a-z0-9']+`)
	markupPattern     = regexp.MustCompile(`<[^>]*>|\{[^}]*\}`)
)

// StripMarkup removes HTML-style and ASS-style formatting tags from subtitle
// text. Dialogue inside the tags is kept.
func StripMarkup(text string) string {
	return markupPattern.ReplaceAllString(text, " ")
}

// Tokenize lowercases text and splits it into word tokens. Tokens shorter
// than three characters carry almost no signal between episodes of the same
// show and are dropped.
func Tokenize(text string) []string {
	lowered := strings.ToLower(StripMarkup(text))
	raw := tokenSplitPattern.Split(lowered, -1)
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.Trim(token, "'")
		if len(token) < 3 {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// Fingerprint is a term-frequency vector over one block of dialogue.
type Fingerprint struct {
	terms map[string]float64
	norm  float64
}

// NewFingerprint builds a fingerprint from raw text. Returns nil when the
// text yields no usable tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return newWeighted(counts)
}

func newWeighted(terms map[string]float64) *Fingerprint {
	var norm float64
	for _, weight := range terms {
		norm += weight * weight
	}
	if norm == 0 {
		return nil
	}
	return &Fingerprint{terms: terms, norm: math.Sqrt(norm)}
}

// TermCount returns the number of distinct terms in the fingerprint.
func (f *Fingerprint) TermCount() int {
	if f == nil {
		return 0
	}
	return len(f.terms)
}

// WithIDF reweights the fingerprint by inverse document frequency. Terms
// absent from the table keep their raw count.
func (f *Fingerprint) WithIDF(idf map[string]float64) *Fingerprint {
	if f == nil || len(idf) == 0 {
		return f
	}
	weighted := make(map[string]float64, len(f.terms))
	for term, count := range f.terms {
		weight := count
		if idfWeight, ok := idf[term]; ok {
			weight *= idfWeight
		}
		if weight == 0 {
			continue
		}
		weighted[term] = weight
	}
	return newWeighted(weighted)
}

// Similarity computes cosine similarity against another fingerprint. Nil or
// empty fingerprints compare as zero.
func (f *Fingerprint) Similarity(other *Fingerprint) float64 {
	if f == nil || other == nil || f.norm == 0 || other.norm == 0 {
		return 0
	}
	smaller, larger := f, other
	if len(larger.terms) < len(smaller.terms) {
		smaller, larger = larger, smaller
	}
	var dot float64
	for term, weight := range smaller.terms {
		if otherWeight, ok := larger.terms[term]; ok {
			dot += weight * otherWeight
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (f.norm * other.norm)
}

// Corpus accumulates document frequencies across reference episodes so that
// show-wide boilerplate (character names, catchphrases) is downweighted.
type Corpus struct {
	docCount int
	docFreq  map[string]int
}

// NewCorpus returns an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{docFreq: make(map[string]int)}
}

// Add registers a document's distinct terms.
func (c *Corpus) Add(fp *Fingerprint) {
	if c == nil || fp == nil {
		return
	}
	c.docCount++
	for term := range fp.terms {
		c.docFreq[term]++
	}
}

// Size returns the number of documents added.
func (c *Corpus) Size() int {
	if c == nil {
		return 0
	}
	return c.docCount
}

// IDF returns log((N+1)/(1+df)) per term.
func (c *Corpus) IDF() map[string]float64 {
	if c == nil || c.docCount == 0 {
		return nil
	}
	idf := make(map[string]float64, len(c.docFreq))
	n := float64(c.docCount)
	for term, df := range c.docFreq {
		idf[term] = math.Log((n + 1) / (1 + float64(df)))
	}
	return idf
}
