// Package autotag derives opening, time-control class and descriptive tags
// from a game's move text. It is independent of the import pipeline's control
// flow and never fails hard: whatever could be derived is returned.
package autotag

import (
	"embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	yaml "gopkg.in/yaml.v3"
)

//go:embed openings.yaml
var openingsFile embed.FS

// openingMaxPlies caps the opening search at 10 full moves.
const openingMaxPlies = 20

const (
	shortGamePlies = 30
	longGamePlies  = 60

	bulletMaxSeconds    = 180
	blitzMaxSeconds     = 600
	rapidMaxSeconds     = 1800
	incrementMoveFactor = 40 // assume ~40-move games when weighing increments

	imbalanceThreshold = 3 // pawn-units
)

var pieceValues = map[nchess.PieceType]int{
	nchess.Pawn:   1,
	nchess.Knight: 3,
	nchess.Bishop: 3,
	nchess.Rook:   5,
	nchess.Queen:  9,
}

var timeControlHeader = regexp.MustCompile(`\[TimeControl "([^"]+)"\]`)

type TimeControlInfo struct {
	BaseTime  int // seconds
	Increment int // seconds
	Class     string // bullet | blitz | rapid | classical
}

type Result struct {
	Opening     string
	TimeControl *TimeControlInfo
	Tags        []string
}

var (
	tableOnce sync.Once
	tableByFEN map[string]string
	tableErr  error
)

type openingEntry struct {
	FEN  string `yaml:"fen"`
	Name string `yaml:"name"`
}

func loadOpenings() (map[string]string, error) {
	tableOnce.Do(func() {
		raw, err := openingsFile.ReadFile("openings.yaml")
		if err != nil {
			tableErr = fmt.Errorf("read embedded openings: %w", err)
			return
		}
		var payload struct {
			Openings []openingEntry `yaml:"openings"`
		}
		if err := yaml.Unmarshal(raw, &payload); err != nil {
			tableErr = fmt.Errorf("decode openings table: %w", err)
			return
		}
		byFEN := make(map[string]string, len(payload.Openings))
		for _, e := range payload.Openings {
			fen := strings.TrimSpace(e.FEN)
			name := strings.TrimSpace(e.Name)
			if fen == "" || name == "" {
				continue
			}
			byFEN[fen] = name
		}
		tableByFEN = byFEN
	})
	return tableByFEN, tableErr
}

// TagGame tags a single game from its PGN. Each derivation step is guarded
// independently, so a PGN that fails to parse still yields the header-based
// tags.
func TagGame(pgn string) Result {
	result := Result{Tags: []string{}}

	var game *nchess.Game
	if opt, err := nchess.PGN(strings.NewReader(pgn)); err == nil {
		game = nchess.NewGame(opt)
	}

	if game != nil {
		if opening := identifyOpening(game); opening != "" {
			result.Opening = opening
			result.Tags = append(result.Tags, "opening:"+openingFamily(opening))
		}
	}

	if tc := parseTimeControl(pgn); tc != nil {
		result.TimeControl = tc
		result.Tags = append(result.Tags, "time:"+tc.Class)
	}

	result.Tags = append(result.Tags, specialTags(pgn, game)...)
	return result
}

// identifyOpening replays the game and matches each position fingerprint
// against the embedded table, keeping the longest opening name found. Deeper
// matches win ties, so specific variations beat their generic ancestors.
func identifyOpening(game *nchess.Game) string {
	table, err := loadOpenings()
	if err != nil || len(table) == 0 {
		return ""
	}
	positions := game.Positions()

	best := ""
	for i := 1; i < len(positions) && i <= openingMaxPlies; i++ {
		fen := positionFingerprint(positions[i])
		if fen == "" {
			continue
		}
		if name, ok := table[fen]; ok && len(name) >= len(best) {
			best = name
		}
	}
	return best
}

// positionFingerprint is the piece-placement field of the position's FEN.
func positionFingerprint(pos *nchess.Position) string {
	if pos == nil {
		return ""
	}
	fields := strings.Fields(pos.String())
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func openingFamily(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return strings.TrimSuffix(fields[0], ":")
}

// parseTimeControl classifies a "base+increment" header. Estimated total
// time is base plus increment weighed over an average game length.
func parseTimeControl(pgn string) *TimeControlInfo {
	m := timeControlHeader.FindStringSubmatch(pgn)
	if m == nil {
		return nil
	}
	parts := strings.SplitN(strings.TrimSpace(m[1]), "+", 2)
	base, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || base <= 0 {
		return nil
	}
	increment := 0
	if len(parts) == 2 {
		if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && n > 0 {
			increment = n
		}
	}

	total := base + increment*incrementMoveFactor
	class := "classical"
	switch {
	case total <= bulletMaxSeconds:
		class = "bullet"
	case total <= blitzMaxSeconds:
		class = "blitz"
	case total <= rapidMaxSeconds:
		class = "rapid"
	}
	return &TimeControlInfo{BaseTime: base, Increment: increment, Class: class}
}

func specialTags(pgn string, game *nchess.Game) []string {
	var tags []string

	if strings.Contains(pgn, "#") {
		tags = append(tags, "checkmate")
	}

	if strings.Contains(pgn, "1/2-1/2") {
		tags = append(tags, "draw")
		lower := strings.ToLower(pgn)
		if strings.Contains(lower, "stalemate") {
			tags = append(tags, "draw:stalemate")
		}
		if strings.Contains(lower, "repetition") {
			tags = append(tags, "draw:repetition")
		}
		if strings.Contains(lower, "insufficient") {
			tags = append(tags, "draw:insufficient")
		}
		if strings.Contains(lower, "agreement") || strings.Contains(lower, "mutual") {
			tags = append(tags, "draw:agreement")
		}
	}

	if game == nil {
		return tags
	}

	plies := len(game.Moves())
	if plies > 0 && plies <= shortGamePlies {
		tags = append(tags, "short-game")
	}
	if plies >= longGamePlies {
		tags = append(tags, "long-game")
	}

	if hasMaterialImbalance(game) {
		tags = append(tags, "material-imbalance")
	}
	return tags
}

// hasMaterialImbalance reports whether the final position shows at least
// three pawn-units of material difference.
func hasMaterialImbalance(game *nchess.Game) bool {
	pos := game.Position()
	if pos == nil {
		return false
	}
	board := pos.Board()

	totals := map[nchess.Color]int{}
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			piece := board.Piece(nchess.NewSquare(file, rank))
			if piece == nchess.NoPiece {
				continue
			}
			totals[piece.Color()] += pieceValues[piece.Type()]
		}
	}

	diff := totals[nchess.White] - totals[nchess.Black]
	if diff < 0 {
		diff = -diff
	}
	return diff >= imbalanceThreshold
}
