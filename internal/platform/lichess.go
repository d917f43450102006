package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kapu/chess-importer/internal/domain"
)

// Lichess fetches games from the Lichess public API.
type Lichess struct {
	baseURL string
	doer    *doer
}

func NewLichess(baseURL string, opts ...Option) *Lichess {
	return &Lichess{
		baseURL: strings.TrimRight(baseURL, "/"),
		doer:    newDoer(opts...),
	}
}

func (l *Lichess) Platform() domain.Platform { return domain.PlatformLichess }

func (l *Lichess) ValidateUsername(ctx context.Context, username string) bool {
	if strings.TrimSpace(username) == "" {
		return false
	}
	var probe map[string]any
	err := l.doer.getJSON(ctx, l.baseURL+"/user/"+url.PathEscape(username), &probe)
	return err == nil
}

func (l *Lichess) FetchGames(ctx context.Context, username string, count int) ([]domain.RawGame, error) {
	if count <= 0 {
		return nil, nil
	}
	u := fmt.Sprintf("%s/games/user/%s?max=%d&perfType=bullet,blitz,rapid,classical&ongoing=false",
		l.baseURL, url.PathEscape(username), count)

	var payload []lichessGame
	if err := l.doer.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}

	games := make([]domain.RawGame, 0, len(payload))
	for _, g := range payload {
		if len(games) >= count {
			break
		}
		games = append(games, g.toRawGame())
	}
	return games, nil
}

// lichessGame mirrors the subset of the Lichess game export payload we read.
type lichessGame struct {
	ID         string `json:"id"`
	CreatedAt  int64  `json:"createdAt"`
	LastMoveAt int64  `json:"lastMoveAt"`
	Speed      string `json:"speed"`
	Status     string `json:"status"`
	Winner     string `json:"winner"`
	PGN        string `json:"pgn"`
	Clock      *struct {
		Initial   int `json:"initial"`
		Increment int `json:"increment"`
	} `json:"clock"`
	Players struct {
		White lichessPlayer `json:"white"`
		Black lichessPlayer `json:"black"`
	} `json:"players"`
}

type lichessPlayer struct {
	User *struct {
		Name string `json:"name"`
	} `json:"user"`
	Rating int `json:"rating"`
}

func (g lichessGame) toRawGame() domain.RawGame {
	ended := g.LastMoveAt
	if ended == 0 {
		ended = g.CreatedAt
	}
	raw := domain.RawGame{
		GameID:    g.ID,
		PGN:       g.PGN,
		EndedAt:   time.UnixMilli(ended).UTC(),
		TimeClass: g.Speed,
		Result:    lichessResult(g.Status, g.Winner),
		White:     domain.PlayerInfo{Name: g.Players.White.name(), Rating: g.Players.White.Rating},
		Black:     domain.PlayerInfo{Name: g.Players.Black.name(), Rating: g.Players.Black.Rating},
	}
	if g.Clock != nil {
		raw.TimeControl = fmt.Sprintf("%d+%d", g.Clock.Initial, g.Clock.Increment)
	}
	return raw
}

func (p lichessPlayer) name() string {
	if p.User != nil && strings.TrimSpace(p.User.Name) != "" {
		return p.User.Name
	}
	return "Unknown"
}

func lichessResult(status, winner string) string {
	switch strings.ToLower(winner) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	}
	switch strings.ToLower(status) {
	case "draw", "stalemate":
		return "1/2-1/2"
	default:
		return "*"
	}
}
