package domain

import (
	"strings"
	"time"
)

// Platform identifies the external chess platform a game was played on.
type Platform string

const (
	PlatformLichess  Platform = "lichess"
	PlatformChessCom Platform = "chesscom"
)

func (p Platform) Valid() bool {
	return p == PlatformLichess || p == PlatformChessCom
}

// ParsePlatform maps user input to a known platform tag.
func ParsePlatform(s string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lichess":
		return PlatformLichess, true
	case "chesscom", "chess.com":
		return PlatformChessCom, true
	default:
		return "", false
	}
}

type PlayerInfo struct {
	Name   string
	Rating int
}

// RawGame is a platform-native game record, immutable once fetched.
type RawGame struct {
	GameID      string // platform stable id, may be empty for chesscom
	PGN         string
	EndedAt     time.Time
	White       PlayerInfo
	Black       PlayerInfo
	TimeControl string // "base+increment" in seconds, e.g. "300+3"
	TimeClass   string // platform-reported class (bullet/blitz/...)
	Result      string // "1-0" | "0-1" | "1/2-1/2" | "*"
}

// ImportedGame is the persisted record a stored game is reconciled against.
type ImportedGame struct {
	ID          string
	UserID      string
	Source      Platform
	OriginalID  string // reconciliation identity key
	PGN         string
	Date        time.Time
	TimeControl string
	Opening     string
	Result      string
	White       PlayerInfo
	Black       PlayerInfo
	Tags        []string
	ImportedAt  time.Time
}
