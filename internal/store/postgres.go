package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/kapu/chess-importer/internal/domain"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

const gameColumns = `
	id, user_id, source, original_id, pgn, played_at, time_control,
	opening, result, white_name, white_rating, black_name, black_rating,
	tags, imported_at`

func (p *Postgres) FindByIdentity(ctx context.Context, userID string, platform domain.Platform, identity string) (*domain.ImportedGame, error) {
	query := `SELECT` + gameColumns + `
		FROM imported_games
		WHERE user_id = $1 AND source = $2 AND original_id = $3
		LIMIT 1`
	row := p.db.QueryRowContext(ctx, query, userID, string(platform), identity)
	game, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select imported game: %w", err)
	}
	return game, nil
}

func (p *Postgres) Save(ctx context.Context, game *domain.ImportedGame) (string, error) {
	if game == nil {
		return "", fmt.Errorf("nil imported game payload")
	}
	return p.insert(ctx, p.db, game)
}

func (p *Postgres) SaveOrReplace(ctx context.Context, game *domain.ImportedGame, overwrite bool) (string, error) {
	if game == nil {
		return "", fmt.Errorf("nil imported game payload")
	}
	if !overwrite {
		return p.insert(ctx, p.db, game)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM imported_games WHERE user_id = $1 AND source = $2 AND original_id = $3`,
		game.UserID, string(game.Source), game.OriginalID)
	if err != nil {
		return "", fmt.Errorf("delete existing game: %w", err)
	}

	id, err := p.insert(ctx, tx, game)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit replace tx: %w", err)
	}
	return id, nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) insert(ctx context.Context, q execQuerier, game *domain.ImportedGame) (string, error) {
	tagsRaw, err := json.Marshal(game.Tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	recordID := game.ID
	if strings.TrimSpace(recordID) == "" {
		recordID = uuid.NewString()
	}
	importedAt := game.ImportedAt
	if importedAt.IsZero() {
		importedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO imported_games (
			id, user_id, source, original_id, pgn, played_at, time_control,
			opening, result, white_name, white_rating, black_name, black_rating,
			tags, imported_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15)
		ON CONFLICT (user_id, source, original_id) DO NOTHING
		RETURNING id`

	var id sql.NullString
	err = q.QueryRowContext(ctx, query,
		recordID,
		game.UserID, string(game.Source), game.OriginalID,
		game.PGN, game.Date, game.TimeControl,
		game.Opening, game.Result,
		game.White.Name, game.White.Rating,
		game.Black.Name, game.Black.Rating,
		string(tagsRaw), importedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return "", ErrDuplicateGame
	}
	if err != nil {
		return "", fmt.Errorf("insert imported game: %w", err)
	}
	return id.String, nil
}

func (p *Postgres) ListForUser(ctx context.Context, userID string, platform domain.Platform, limit int) ([]*domain.ImportedGame, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT` + gameColumns + `
		FROM imported_games
		WHERE user_id = $1 AND source = $2
		ORDER BY played_at DESC
		LIMIT $3`

	rows, err := p.db.QueryContext(ctx, query, userID, string(platform), limit)
	if err != nil {
		return nil, fmt.Errorf("select imported games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.ImportedGame, 0, limit)
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan imported game: %w", err)
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM imported_games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete imported game: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*domain.ImportedGame, error) {
	var (
		game     domain.ImportedGame
		source   string
		tagsJSON []byte
	)
	if err := row.Scan(
		&game.ID,
		&game.UserID,
		&source,
		&game.OriginalID,
		&game.PGN,
		&game.Date,
		&game.TimeControl,
		&game.Opening,
		&game.Result,
		&game.White.Name,
		&game.White.Rating,
		&game.Black.Name,
		&game.Black.Rating,
		&tagsJSON,
		&game.ImportedAt,
	); err != nil {
		return nil, err
	}
	game.Source = domain.Platform(source)
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &game.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &game, nil
}
