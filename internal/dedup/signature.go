// Package dedup compares candidate games against a corpus of previously
// stored games and produces a duplicate verdict.
package dedup

import (
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/kapu/chess-importer/internal/domain"
)

// signaturePlies bounds the move prefix used for fuzzy comparison.
const signaturePlies = 10

// Signature is the lightweight feature tuple used for similarity scoring.
// It is never persisted as a primary identity.
type Signature struct {
	Date        time.Time
	WhitePlayer string
	BlackPlayer string
	FirstMoves  []string // SAN, first 10 plies
	TimeControl string
	Result      string
}

// FromCandidate extracts a signature from a freshly fetched game.
func FromCandidate(raw domain.RawGame) Signature {
	return Signature{
		Date:        raw.EndedAt,
		WhitePlayer: raw.White.Name,
		BlackPlayer: raw.Black.Name,
		FirstMoves:  sanPrefix(raw.PGN, signaturePlies),
		TimeControl: raw.TimeControl,
		Result:      raw.Result,
	}
}

// FromStored extracts a signature from a persisted game.
func FromStored(g *domain.ImportedGame) Signature {
	return Signature{
		Date:        g.Date,
		WhitePlayer: g.White.Name,
		BlackPlayer: g.Black.Name,
		FirstMoves:  sanPrefix(g.PGN, signaturePlies),
		TimeControl: g.TimeControl,
		Result:      g.Result,
	}
}

// sanPrefix replays the PGN and returns up to limit leading moves in SAN.
// A PGN that does not parse yields an empty prefix rather than an error.
func sanPrefix(pgn string, limit int) []string {
	if strings.TrimSpace(pgn) == "" {
		return nil
	}
	opt, err := nchess.PGN(strings.NewReader(pgn))
	if err != nil {
		return nil
	}
	game := nchess.NewGame(opt)
	moves := game.Moves()
	positions := game.Positions()
	notation := nchess.AlgebraicNotation{}

	n := limit
	if len(moves) < n {
		n = len(moves)
	}
	out := make([]string, 0, n)
	for i := 0; i < n && i < len(positions); i++ {
		out = append(out, notation.Encode(positions[i], moves[i]))
	}
	return out
}
