package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kapu/chess-importer/internal/domain"
)

// memstore is an in-memory GameStore used when no database is configured and
// in tests.
type memstore struct {
	mu sync.RWMutex

	byID       map[string]*domain.ImportedGame
	byIdentity map[string]*domain.ImportedGame // userID|source|identity -> game
	byUser     map[string][]*domain.ImportedGame
}

func NewMemoryStore() GameStore {
	return &memstore{
		byID:       make(map[string]*domain.ImportedGame),
		byIdentity: make(map[string]*domain.ImportedGame),
		byUser:     make(map[string][]*domain.ImportedGame),
	}
}

func (m *memstore) FindByIdentity(ctx context.Context, userID string, platform domain.Platform, identity string) (*domain.ImportedGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.byIdentity[m.identityKey(userID, platform, identity)]; ok && g != nil {
		copy := *g
		return &copy, nil
	}
	return nil, nil
}

func (m *memstore) Save(ctx context.Context, game *domain.ImportedGame) (string, error) {
	return m.SaveOrReplace(ctx, game, false)
}

func (m *memstore) SaveOrReplace(ctx context.Context, game *domain.ImportedGame, overwrite bool) (string, error) {
	if game == nil {
		return "", ErrDuplicateGame
	}
	key := m.identityKey(game.UserID, game.Source, game.OriginalID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byIdentity[key]; ok {
		if !overwrite {
			return "", ErrDuplicateGame
		}
		m.removeLocked(existing)
	}

	copy := *game
	if strings.TrimSpace(copy.ID) == "" {
		copy.ID = uuid.NewString()
	}
	if copy.ImportedAt.IsZero() {
		copy.ImportedAt = time.Now().UTC()
	}
	copy.Tags = append([]string(nil), game.Tags...)

	m.byID[copy.ID] = &copy
	m.byIdentity[key] = &copy
	userKey := m.userKey(copy.UserID, copy.Source)
	m.byUser[userKey] = append(m.byUser[userKey], &copy)

	return copy.ID, nil
}

func (m *memstore) ListForUser(ctx context.Context, userID string, platform domain.Platform, limit int) ([]*domain.ImportedGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byUser[m.userKey(userID, platform)]
	items := append([]*domain.ImportedGame(nil), list...)
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.After(items[j].Date)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]*domain.ImportedGame, 0, len(items))
	for _, g := range items {
		copy := *g
		out = append(out, &copy)
	}
	return out, nil
}

func (m *memstore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.byID[id]; ok {
		m.removeLocked(g)
	}
	return nil
}

func (m *memstore) removeLocked(g *domain.ImportedGame) {
	delete(m.byID, g.ID)
	delete(m.byIdentity, m.identityKey(g.UserID, g.Source, g.OriginalID))
	userKey := m.userKey(g.UserID, g.Source)
	list := m.byUser[userKey]
	for i, item := range list {
		if item.ID == g.ID {
			m.byUser[userKey] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (m *memstore) identityKey(userID string, platform domain.Platform, identity string) string {
	return strings.TrimSpace(userID) + "|" + string(platform) + "|" + strings.TrimSpace(identity)
}

func (m *memstore) userKey(userID string, platform domain.Platform) string {
	return strings.TrimSpace(userID) + "|" + string(platform)
}
