package matcher

import (
	"fmt"
	"math"
	"sort"

	"engram/internal/logging"
)

// ambiguityMargin is the score gap under which two equal-vote claims on the
// same episode are considered a coin flip worth logging.
const ambiguityMargin = 0.05

// ResolveConflicts enforces one title per episode. For each episode claimed
// by several titles the best-ranked claim keeps the assignment; the rest go
// to review. Near ties get a log line so the reviewer knows the winner was
// marginal.
func (m *Matcher) ResolveConflicts(matches []*TitleMatch) {
	claims := make(map[string][]*TitleMatch)
	for _, match := range matches {
		if match == nil || match.NeedsReview || match.Episode == "" {
			continue
		}
		claims[match.Episode] = append(claims[match.Episode], match)
	}

	for episode, contenders := range claims {
		if len(contenders) < 2 {
			continue
		}
		sort.Slice(contenders, func(i, j int) bool {
			return rankHigher(asCandidate(contenders[i]), asCandidate(contenders[j]))
		})

		for i := 0; i+1 < len(contenders); i++ {
			a, b := contenders[i], contenders[i+1]
			if a.VoteCount == b.VoteCount && math.Abs(a.Confidence-b.Confidence) < ambiguityMargin {
				m.logger.Warn("ambiguous episode claim",
					logging.String("episode", episode),
					logging.Int64("winner_title", a.TitleID),
					logging.Int64("loser_title", b.TitleID),
					logging.Float64("winner_score", a.Confidence),
					logging.Float64("loser_score", b.Confidence))
			}
		}

		for _, loser := range contenders[1:] {
			loser.Episode = ""
			loser.NeedsReview = true
			loser.ReviewReason = fmt.Sprintf("Episode %s also claimed by a higher-ranked title", episode)
		}
	}
}

func asCandidate(match *TitleMatch) Candidate {
	return Candidate{
		Episode:   match.Episode,
		VoteCount: match.VoteCount,
		Score:     match.Confidence,
		Coverage:  match.Coverage,
	}
}
