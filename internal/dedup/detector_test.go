package dedup

import (
	"testing"
	"time"

	"github.com/kapu/chess-importer/internal/domain"
)

const samplePGN = "[Event \"Rated blitz game\"]\n[Result \"1-0\"]\n\n1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 4. Ba4 Nf6 5. O-O Be7 1-0"
const otherPGN = "[Event \"Rated blitz game\"]\n[Result \"0-1\"]\n\n1. d4 d5 2. c4 e6 3. Nc3 Nf6 4. Bg5 Be7 5. e3 O-O 0-1"

func candidate(t time.Time) domain.RawGame {
	return domain.RawGame{
		GameID:      "g1",
		PGN:         samplePGN,
		EndedAt:     t,
		White:       domain.PlayerInfo{Name: "alice"},
		Black:       domain.PlayerInfo{Name: "bob"},
		TimeControl: "300+3",
		Result:      "1-0",
	}
}

func stored(id, identity, pgn string, t time.Time) *domain.ImportedGame {
	return &domain.ImportedGame{
		ID:          id,
		OriginalID:  identity,
		PGN:         pgn,
		Date:        t,
		White:       domain.PlayerInfo{Name: "alice"},
		Black:       domain.PlayerInfo{Name: "bob"},
		TimeControl: "300+3",
		Result:      "1-0",
	}
}

func TestSimilaritySelf(t *testing.T) {
	sig := FromCandidate(candidate(time.Now()))
	if got := Similarity(sig, sig); got != 1 {
		t.Fatalf("self similarity = %v, want 1", got)
	}
}

func TestSimilarityBounds(t *testing.T) {
	now := time.Now()
	a := FromCandidate(candidate(now))
	b := FromStored(&domain.ImportedGame{
		PGN:         otherPGN,
		Date:        now.Add(-48 * time.Hour),
		White:       domain.PlayerInfo{Name: "carol"},
		Black:       domain.PlayerInfo{Name: "dave"},
		TimeControl: "600+0",
	})
	got := Similarity(a, b)
	if got < 0 || got > 1 {
		t.Fatalf("similarity out of bounds: %v", got)
	}
}

func TestSimilarityDateTiers(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := FromCandidate(candidate(now))

	within := base
	within.Date = now.Add(30 * time.Minute)
	sameDay := base
	sameDay.Date = now.Add(5 * time.Hour)
	farOff := base
	farOff.Date = now.Add(72 * time.Hour)

	sWithin := Similarity(base, within)
	sDay := Similarity(base, sameDay)
	sFar := Similarity(base, farOff)
	if !(sWithin > sDay && sDay > sFar) {
		t.Fatalf("date tiers not ordered: %v %v %v", sWithin, sDay, sFar)
	}
	if sWithin != 1 {
		t.Fatalf("within-hour similarity = %v, want 1", sWithin)
	}
}

func TestSimilarityPrefixStopsAtMismatch(t *testing.T) {
	now := time.Now()
	a := FromCandidate(candidate(now))
	b := a
	// Different opening: prefix diverges at ply one, so the move factor
	// contributes nothing even though later plies could coincide.
	b.FirstMoves = append([]string{"d4"}, a.FirstMoves[1:]...)
	got := Similarity(a, b)
	want := (playerWeight + dateWeight + timeControlWeight) / totalWeight
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("similarity = %v, want %v", got, want)
	}
}

func TestCheckForDuplicateExactByIdentity(t *testing.T) {
	now := time.Now()
	corpus := []*domain.ImportedGame{
		stored("s1", "lichess-zzz", otherPGN, now.Add(-time.Hour)),
		stored("s2", "lichess-g1", samplePGN, now),
	}
	v := CheckForDuplicate(candidate(now), "lichess-g1", corpus)
	if !v.IsDuplicate || v.MatchReason != MatchExact || v.Score != 1 {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if v.Matched == nil || v.Matched.ID != "s2" {
		t.Fatalf("matched wrong game: %+v", v.Matched)
	}
}

func TestCheckForDuplicateSimilar(t *testing.T) {
	now := time.Now()
	// Same players and opening, played 30 minutes apart, but a different
	// time control and identity: high similarity without being exact.
	g := stored("s1", "lichess-other", samplePGN, now.Add(30*time.Minute))
	g.TimeControl = "180+2"
	v := CheckForDuplicate(candidate(now), "lichess-g1", []*domain.ImportedGame{g})
	if !v.IsDuplicate || v.MatchReason != MatchSimilar {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if v.Score <= similarThreshold || v.Score >= 1 {
		t.Fatalf("similar score out of range: %v", v.Score)
	}
}

func TestCheckForDuplicateNone(t *testing.T) {
	now := time.Now()
	g := stored("s1", "lichess-other", otherPGN, now.Add(-72*time.Hour))
	g.White.Name = "carol"
	g.TimeControl = "600+0"
	v := CheckForDuplicate(candidate(now), "lichess-g1", []*domain.ImportedGame{g})
	if v.IsDuplicate || v.MatchReason != MatchNone {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestCheckForDuplicateEmptyCorpus(t *testing.T) {
	v := CheckForDuplicate(candidate(time.Now()), "lichess-g1", nil)
	if v.IsDuplicate || v.Matched != nil || v.Score != 0 {
		t.Fatalf("unexpected verdict for empty corpus: %+v", v)
	}
}
