package platform

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/kapu/chess-importer/internal/domain"
)

// ChessCom fetches games from the Chess.com published-data API. Games are
// published as monthly archives; fetching walks them newest-first.
type ChessCom struct {
	baseURL   string
	doer      *doer
	pageDelay time.Duration
}

func NewChessCom(baseURL string, opts ...Option) *ChessCom {
	c := &ChessCom{
		baseURL: strings.TrimRight(baseURL, "/"),
		doer:    newDoer(opts...),
	}
	c.pageDelay = c.doer.retryDelay
	return c
}

func (c *ChessCom) Platform() domain.Platform { return domain.PlatformChessCom }

func (c *ChessCom) ValidateUsername(ctx context.Context, username string) bool {
	if strings.TrimSpace(username) == "" {
		return false
	}
	var probe map[string]any
	err := c.doer.getJSON(ctx, c.baseURL+"/player/"+url.PathEscape(username), &probe)
	return err == nil
}

func (c *ChessCom) FetchGames(ctx context.Context, username string, count int) ([]domain.RawGame, error) {
	if count <= 0 {
		return nil, nil
	}
	archives, err := c.getArchives(ctx, username)
	if err != nil {
		return nil, err
	}

	games := make([]domain.RawGame, 0, count)
	// Newest archives last in the listing; walk in reverse.
	for i := len(archives) - 1; i >= 0; i-- {
		if len(games) >= count {
			break
		}
		if i < len(archives)-1 {
			if err := sleepWithContext(ctx, c.pageDelay); err != nil {
				return nil, err
			}
		}

		var month struct {
			Games []chessComGame `json:"games"`
		}
		if err := c.doer.getJSON(ctx, archives[i], &month); err != nil {
			return nil, err
		}
		// Months list oldest-first; take from the end for the most recent games.
		for j := len(month.Games) - 1; j >= 0; j-- {
			if len(games) >= count {
				break
			}
			g := month.Games[j]
			if g.Rules != "chess" || g.Tournament != "" {
				continue
			}
			games = append(games, g.toRawGame())
		}
	}
	return games, nil
}

func (c *ChessCom) getArchives(ctx context.Context, username string) ([]string, error) {
	var payload struct {
		Archives []string `json:"archives"`
	}
	u := c.baseURL + "/player/" + url.PathEscape(username) + "/games/archives"
	if err := c.doer.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	return payload.Archives, nil
}

type chessComGame struct {
	URL         string         `json:"url"`
	UUID        string         `json:"uuid"`
	PGN         string         `json:"pgn"`
	TimeControl string         `json:"time_control"`
	TimeClass   string         `json:"time_class"`
	EndTime     int64          `json:"end_time"`
	Rules       string         `json:"rules"`
	Tournament  string         `json:"tournament"`
	White       chessComPlayer `json:"white"`
	Black       chessComPlayer `json:"black"`
}

type chessComPlayer struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Result   string `json:"result"`
}

func (g chessComGame) toRawGame() domain.RawGame {
	return domain.RawGame{
		GameID:      g.UUID,
		PGN:         g.PGN,
		EndedAt:     time.Unix(g.EndTime, 0).UTC(),
		TimeControl: normalizeTimeControl(g.TimeControl),
		TimeClass:   g.TimeClass,
		Result:      chessComResult(g.White.Result, g.Black.Result),
		White:       domain.PlayerInfo{Name: playerName(g.White.Username), Rating: g.White.Rating},
		Black:       domain.PlayerInfo{Name: playerName(g.Black.Username), Rating: g.Black.Rating},
	}
}

func playerName(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

// normalizeTimeControl maps Chess.com's "base" / "base+inc" seconds format to
// the canonical "base+inc" form used for signature comparison.
func normalizeTimeControl(tc string) string {
	tc = strings.TrimSpace(tc)
	if tc == "" || strings.Contains(tc, "+") {
		return tc
	}
	return tc + "+0"
}

func chessComResult(white, black string) string {
	switch {
	case white == "win":
		return "1-0"
	case black == "win":
		return "0-1"
	case white == "" && black == "":
		return "*"
	default:
		return "1/2-1/2"
	}
}
