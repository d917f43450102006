// Package identity derives the stable reconciliation key used to recognize
// the same real-world game across imports.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/kapu/chess-importer/internal/domain"
)

// Resolve is a pure function of the platform and the fetched game. Fetching
// the same game twice must yield the same key.
func Resolve(p domain.Platform, raw domain.RawGame) string {
	switch p {
	case domain.PlatformLichess:
		if strings.TrimSpace(raw.GameID) != "" {
			return "lichess-" + strings.TrimSpace(raw.GameID)
		}
	case domain.PlatformChessCom:
		// Chess.com has no single stable id field; compose end time, both
		// players and the synthetic uuid when present.
		return fmt.Sprintf("chesscom-%s-%s-vs-%s-%s",
			raw.EndedAt.UTC().Format(time.RFC3339),
			strings.TrimSpace(raw.White.Name),
			strings.TrimSpace(raw.Black.Name),
			strings.TrimSpace(raw.GameID))
	}
	return fallback(p, raw)
}

// fallback hashes deterministic fields only. Nondeterministic tiebreaks would
// break identity idempotence, so a residual collision risk between two truly
// distinct games with identical players, end time and opening moves is
// accepted instead.
func fallback(p domain.Platform, raw domain.RawGame) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		p,
		raw.EndedAt.UTC().Format(time.RFC3339),
		strings.TrimSpace(raw.White.Name),
		strings.TrimSpace(raw.Black.Name),
		movePrefix(raw.PGN, 64))
	return fmt.Sprintf("%s-%s", p, hex.EncodeToString(h.Sum(nil))[:16])
}

// movePrefix returns the leading n bytes of the PGN movetext, headers removed.
func movePrefix(pgn string, n int) string {
	var b strings.Builder
	for _, line := range strings.Split(pgn, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(line)
		if b.Len() >= n {
			break
		}
	}
	s := b.String()
	if len(s) > n {
		s = s[:n]
	}
	return s
}
