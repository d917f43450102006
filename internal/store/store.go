package store

import (
	"context"
	"errors"

	"github.com/kapu/chess-importer/internal/domain"
)

// ErrDuplicateGame is returned by Save when a record with the same
// reconciliation identity already exists for the user and platform.
var ErrDuplicateGame = errors.New("imported game already exists")

// GameStore persists imported games and serves the reconciliation corpus.
type GameStore interface {
	// FindByIdentity returns nil without error when no record matches.
	FindByIdentity(ctx context.Context, userID string, platform domain.Platform, identity string) (*domain.ImportedGame, error)
	// Save inserts a new record; an identity conflict yields ErrDuplicateGame.
	Save(ctx context.Context, game *domain.ImportedGame) (string, error)
	// SaveOrReplace replaces any existing record with the same identity in a
	// single transaction when overwrite is set; otherwise behaves like Save.
	SaveOrReplace(ctx context.Context, game *domain.ImportedGame, overwrite bool) (string, error)
	// ListForUser returns the user's stored games for one platform, newest
	// first, bounded by limit.
	ListForUser(ctx context.Context, userID string, platform domain.Platform, limit int) ([]*domain.ImportedGame, error)
	Delete(ctx context.Context, id string) error
}
