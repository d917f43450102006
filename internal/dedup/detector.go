package dedup

import (
	"time"

	"github.com/kapu/chess-importer/internal/domain"
)

type MatchReason string

const (
	MatchNone    MatchReason = "none"
	MatchExact   MatchReason = "exact"
	MatchSimilar MatchReason = "similar"
)

// similarThreshold is the score above which a non-exact match is still
// reported as a duplicate.
const similarThreshold = 0.8

const (
	playerWeight      = 0.4
	dateWeight        = 0.2
	movesWeight       = 0.3
	timeControlWeight = 0.1
	totalWeight       = playerWeight + dateWeight + movesWeight + timeControlWeight
)

type Verdict struct {
	IsDuplicate bool
	Matched     *domain.ImportedGame // highest-scoring stored game, nil when none
	MatchReason MatchReason
	Score       float64 // 0..1
}

// Similarity scores two signatures in [0,1]. A signature always scores 1
// against itself.
func Similarity(a, b Signature) float64 {
	score := 0.0

	// Player names, all or nothing.
	if a.WhitePlayer == b.WhitePlayer && a.BlackPlayer == b.BlackPlayer {
		score += playerWeight
	}

	// Date proximity: full weight within an hour, half within a day.
	diff := a.Date.Sub(b.Date)
	if diff < 0 {
		diff = -diff
	}
	if diff < time.Hour {
		score += dateWeight
	} else if diff < 24*time.Hour {
		score += dateWeight / 2
	}

	// Leading-move agreement: contiguous matching prefix over the longer
	// prefix length; comparison stops at the first mismatch.
	minMoves := len(a.FirstMoves)
	if len(b.FirstMoves) < minMoves {
		minMoves = len(b.FirstMoves)
	}
	maxMoves := len(a.FirstMoves)
	if len(b.FirstMoves) > maxMoves {
		maxMoves = len(b.FirstMoves)
	}
	if maxMoves == 0 {
		// Two empty prefixes agree fully.
		score += movesWeight
	} else {
		matching := 0
		for i := 0; i < minMoves; i++ {
			if a.FirstMoves[i] != b.FirstMoves[i] {
				break
			}
			matching++
		}
		score += movesWeight * float64(matching) / float64(maxMoves)
	}

	if a.TimeControl == b.TimeControl {
		score += timeControlWeight
	}

	return score / totalWeight
}

// CheckForDuplicate scans the whole corpus linearly, tracking the
// highest-scoring stored game. An identity match or a perfect score
// short-circuits as exact; otherwise the best score decides between similar
// and none. Corpora are bounded per user, so the linear scan is fine next to
// the network fetch.
func CheckForDuplicate(candidate domain.RawGame, candidateIdentity string, corpus []*domain.ImportedGame) Verdict {
	sig := FromCandidate(candidate)

	best := 0.0
	var bestGame *domain.ImportedGame
	for _, stored := range corpus {
		if stored == nil {
			continue
		}
		if candidateIdentity != "" && stored.OriginalID == candidateIdentity {
			return Verdict{IsDuplicate: true, Matched: stored, MatchReason: MatchExact, Score: 1}
		}
		score := Similarity(sig, FromStored(stored))
		if score > best {
			best = score
			bestGame = stored
		}
		if score == 1 {
			return Verdict{IsDuplicate: true, Matched: stored, MatchReason: MatchExact, Score: 1}
		}
	}

	if best > similarThreshold && bestGame != nil {
		return Verdict{IsDuplicate: true, Matched: bestGame, MatchReason: MatchSimilar, Score: best}
	}
	return Verdict{MatchReason: MatchNone, Score: best}
}
