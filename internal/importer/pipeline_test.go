package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kapu/chess-importer/internal/dedup"
	"github.com/kapu/chess-importer/internal/domain"
	"github.com/kapu/chess-importer/internal/platform"
	"github.com/kapu/chess-importer/internal/store"
)

type fakeClient struct {
	valid    bool
	games    []domain.RawGame
	fetchErr error
}

func (f *fakeClient) Platform() domain.Platform { return domain.PlatformLichess }

func (f *fakeClient) ValidateUsername(ctx context.Context, username string) bool { return f.valid }

func (f *fakeClient) FetchGames(ctx context.Context, username string, count int) ([]domain.RawGame, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if count < len(f.games) {
		return f.games[:count], nil
	}
	return f.games, nil
}

// flakyStore fails SaveOrReplace for chosen identities and delegates
// everything else to the wrapped store.
type flakyStore struct {
	store.GameStore
	saveErrs map[string]error
}

func (f *flakyStore) SaveOrReplace(ctx context.Context, game *domain.ImportedGame, overwrite bool) (string, error) {
	if err, ok := f.saveErrs[game.OriginalID]; ok {
		return "", err
	}
	return f.GameStore.SaveOrReplace(ctx, game, overwrite)
}

func rawGame(id string, ended time.Time, white, black string) domain.RawGame {
	return domain.RawGame{
		GameID:      id,
		PGN:         "1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 1-0",
		EndedAt:     ended,
		White:       domain.PlayerInfo{Name: white, Rating: 1500},
		Black:       domain.PlayerInfo{Name: black, Rating: 1480},
		TimeControl: "300+3",
		TimeClass:   "blitz",
		Result:      "1-0",
	}
}

func storedFrom(raw domain.RawGame) *domain.ImportedGame {
	return &domain.ImportedGame{
		UserID:      "u1",
		Source:      domain.PlatformLichess,
		OriginalID:  "lichess-" + raw.GameID,
		PGN:         raw.PGN,
		Date:        raw.EndedAt,
		TimeControl: raw.TimeControl,
		Result:      raw.Result,
		White:       raw.White,
		Black:       raw.Black,
	}
}

func newPipeline(st store.GameStore, client platform.Client) *Pipeline {
	return New(platform.NewRegistryWith(client), st, Config{}, nil)
}

func baseOptions(count int) Options {
	return Options{
		UserID:   "u1",
		Username: "alice",
		Platform: domain.PlatformLichess,
		Count:    count,
	}
}

func TestRunImportsAllNewGames(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	games := make([]domain.RawGame, 0, 25)
	for i := 0; i < 25; i++ {
		games = append(games,
			rawGame(fmt.Sprintf("g%02d", i), base.Add(time.Duration(i)*48*time.Hour),
				fmt.Sprintf("white%02d", i), fmt.Sprintf("black%02d", i)))
	}
	st := store.NewMemoryStore()
	p := newPipeline(st, &fakeClient{valid: true, games: games})

	final := p.Run(context.Background(), baseOptions(25))
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", final.Status, final.Error)
	}
	if final.Completed != 25 || final.Failed != 0 || final.Duplicates != 0 {
		t.Fatalf("counters = %+v", final)
	}

	stored, err := st.ListForUser(context.Background(), "u1", domain.PlatformLichess, 100)
	if err != nil || len(stored) != 25 {
		t.Fatalf("stored %d games (err %v), want 25", len(stored), err)
	}
}

func TestRunInvalidUsername(t *testing.T) {
	p := newPipeline(store.NewMemoryStore(), &fakeClient{valid: false})

	final := p.Run(context.Background(), baseOptions(10))
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Error != "Invalid username for lichess" {
		t.Fatalf("error = %q", final.Error)
	}
	if final.Completed != 0 || final.Duplicates != 0 {
		t.Fatalf("counters after validation failure: %+v", final)
	}
}

func TestRunFetchErrorFailsRun(t *testing.T) {
	p := newPipeline(store.NewMemoryStore(), &fakeClient{valid: true, fetchErr: errors.New("rate limited")})

	final := p.Run(context.Background(), baseOptions(10))
	if final.Status != StatusFailed || final.Error != "rate limited" {
		t.Fatalf("final = %+v", final)
	}
}

func TestRunSkipResolution(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	dup := rawGame("dup1", base, "alice", "bob")
	fresh := rawGame("new1", base.Add(72*time.Hour), "carol", "dave")

	st := store.NewMemoryStore()
	if _, err := st.Save(context.Background(), storedFrom(dup)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p := newPipeline(st, &fakeClient{valid: true, games: []domain.RawGame{dup, fresh}})

	var seen *Conflict
	opts := baseOptions(2)
	opts.OnDuplicateFound = func(ctx context.Context, c *Conflict) (Resolution, error) {
		seen = c
		return Resolution{Action: ActionSkip}, nil
	}

	final := p.Run(context.Background(), opts)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s (error %q)", final.Status, final.Error)
	}
	if final.Duplicates != 1 || final.Skipped != 1 || final.Completed != 2 {
		t.Fatalf("counters = %+v", final)
	}
	if seen == nil || seen.Reason != dedup.MatchExact || seen.Identity != "lichess-dup1" {
		t.Fatalf("conflict = %+v", seen)
	}

	stored, _ := st.ListForUser(context.Background(), "u1", domain.PlatformLichess, 100)
	if len(stored) != 2 {
		t.Fatalf("stored %d games, want seeded + fresh", len(stored))
	}
}

func TestRunOverwriteResolution(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	dup := rawGame("dup1", base, "alice", "bob")

	st := store.NewMemoryStore()
	seeded := storedFrom(dup)
	seeded.Opening = "stale"
	if _, err := st.Save(context.Background(), seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p := newPipeline(st, &fakeClient{valid: true, games: []domain.RawGame{dup}})

	opts := baseOptions(1)
	opts.OnDuplicateFound = func(ctx context.Context, c *Conflict) (Resolution, error) {
		return Resolution{Action: ActionOverwrite}, nil
	}

	final := p.Run(context.Background(), opts)
	if final.Status != StatusCompleted || final.Completed != 1 || final.Duplicates != 1 {
		t.Fatalf("final = %+v", final)
	}

	g, err := st.FindByIdentity(context.Background(), "u1", domain.PlatformLichess, "lichess-dup1")
	if err != nil || g == nil {
		t.Fatalf("find replaced: %v %v", g, err)
	}
	if g.Opening == "stale" {
		t.Fatalf("record was not replaced")
	}
	stored, _ := st.ListForUser(context.Background(), "u1", domain.PlatformLichess, 100)
	if len(stored) != 1 {
		t.Fatalf("stored %d games after overwrite, want 1", len(stored))
	}
}

func TestRunApplyToAllPromptsOnce(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	games := make([]domain.RawGame, 0, 3)
	for i := 0; i < 3; i++ {
		g := rawGame(fmt.Sprintf("dup%d", i), base.Add(time.Duration(i)*72*time.Hour),
			fmt.Sprintf("w%d", i), fmt.Sprintf("b%d", i))
		games = append(games, g)
		if _, err := st.Save(context.Background(), storedFrom(g)); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	p := newPipeline(st, &fakeClient{valid: true, games: games})

	prompts := 0
	opts := baseOptions(3)
	opts.OnDuplicateFound = func(ctx context.Context, c *Conflict) (Resolution, error) {
		prompts++
		return Resolution{Action: ActionSkip, ApplyToAll: true}, nil
	}

	final := p.Run(context.Background(), opts)
	if prompts != 1 {
		t.Fatalf("resolver prompted %d times, want 1", prompts)
	}
	if final.Status != StatusCompleted || final.Duplicates != 3 || final.Skipped != 3 {
		t.Fatalf("final = %+v", final)
	}
}

func TestRunDefaultSkipWithoutResolver(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	dup := rawGame("dup1", base, "alice", "bob")

	st := store.NewMemoryStore()
	seeded := storedFrom(dup)
	seeded.Opening = "original"
	if _, err := st.Save(context.Background(), seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p := newPipeline(st, &fakeClient{valid: true, games: []domain.RawGame{dup}})

	final := p.Run(context.Background(), baseOptions(1))
	if final.Status != StatusCompleted || final.Skipped != 1 || final.Duplicates != 1 {
		t.Fatalf("final = %+v", final)
	}
	g, _ := st.FindByIdentity(context.Background(), "u1", domain.PlatformLichess, "lichess-dup1")
	if g == nil || g.Opening != "original" {
		t.Fatalf("stored record was touched without a resolver: %+v", g)
	}
}

func TestRunSimilarGameRaisesConflict(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	candidate := rawGame("new1", base, "alice", "bob")

	// Same players, date and moves, different identity and time control:
	// score (0.4+0.2+0.3)/1.0 = 0.9, a similar match.
	seeded := storedFrom(rawGame("old1", base, "alice", "bob"))
	seeded.TimeControl = "180+2"

	st := store.NewMemoryStore()
	if _, err := st.Save(context.Background(), seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p := newPipeline(st, &fakeClient{valid: true, games: []domain.RawGame{candidate}})

	var seen *Conflict
	opts := baseOptions(1)
	opts.OnDuplicateFound = func(ctx context.Context, c *Conflict) (Resolution, error) {
		seen = c
		return Resolution{Action: ActionSkip}, nil
	}

	final := p.Run(context.Background(), opts)
	if final.Status != StatusCompleted || final.Duplicates != 1 {
		t.Fatalf("final = %+v", final)
	}
	if seen == nil || seen.Reason != dedup.MatchSimilar {
		t.Fatalf("conflict = %+v", seen)
	}
	if seen.Score <= 0.8 || seen.Score >= 1 {
		t.Fatalf("similar score = %v", seen.Score)
	}
}

func TestRunWriteTimeDuplicateReclassified(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	g := rawGame("race1", base, "alice", "bob")

	st := &flakyStore{
		GameStore: store.NewMemoryStore(),
		saveErrs:  map[string]error{"lichess-race1": store.ErrDuplicateGame},
	}
	p := newPipeline(st, &fakeClient{valid: true, games: []domain.RawGame{g}})

	final := p.Run(context.Background(), baseOptions(1))
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s (error %q)", final.Status, final.Error)
	}
	if final.Failed != 0 || final.Duplicates != 1 || final.Skipped != 1 || final.Completed != 1 {
		t.Fatalf("write-time duplicate miscounted: %+v", final)
	}
}

func TestRunPersistErrorCountsFailed(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bad := rawGame("bad1", base, "w1", "b1")
	good := rawGame("good1", base.Add(72*time.Hour), "w2", "b2")

	st := &flakyStore{
		GameStore: store.NewMemoryStore(),
		saveErrs:  map[string]error{"lichess-bad1": errors.New("disk full")},
	}
	p := newPipeline(st, &fakeClient{valid: true, games: []domain.RawGame{bad, good}})

	final := p.Run(context.Background(), baseOptions(2))
	if final.Status != StatusCompleted {
		t.Fatalf("run aborted on a per-game persistence error: %+v", final)
	}
	if final.Failed != 1 || final.Completed != 1 {
		t.Fatalf("counters = %+v", final)
	}
}

func TestRunProgressSnapshotsMonotonic(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	games := make([]domain.RawGame, 0, 12)
	for i := 0; i < 12; i++ {
		games = append(games,
			rawGame(fmt.Sprintf("g%02d", i), base.Add(time.Duration(i)*48*time.Hour),
				fmt.Sprintf("w%02d", i), fmt.Sprintf("b%02d", i)))
	}
	p := newPipeline(store.NewMemoryStore(), &fakeClient{valid: true, games: games})

	var snaps []Progress
	opts := baseOptions(12)
	opts.OnProgress = func(pr Progress) { snaps = append(snaps, pr) }

	final := p.Run(context.Background(), opts)
	if final.Status != StatusCompleted {
		t.Fatalf("final = %+v", final)
	}
	if len(snaps) == 0 {
		t.Fatal("no progress snapshots emitted")
	}
	prev := Progress{}
	for i, s := range snaps {
		if s.Completed < prev.Completed || s.Failed < prev.Failed || s.Duplicates < prev.Duplicates {
			t.Fatalf("snapshot %d regressed: %+v after %+v", i, s, prev)
		}
		if s.Total != 12 {
			t.Fatalf("snapshot %d total = %d", i, s.Total)
		}
		prev = s
	}
	last := snaps[len(snaps)-1]
	if last.Status != StatusCompleted || last.Completed != 12 {
		t.Fatalf("last snapshot = %+v", last)
	}
}

func TestRunCancelWhileSuspendedOnConflict(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	dup := rawGame("dup1", base, "alice", "bob")

	st := store.NewMemoryStore()
	if _, err := st.Save(context.Background(), storedFrom(dup)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p := newPipeline(st, &fakeClient{valid: true, games: []domain.RawGame{dup}})

	prompt := NewPrompt()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := baseOptions(1)
	opts.OnDuplicateFound = prompt.Ask

	done := make(chan Progress, 1)
	go func() { done <- p.Run(ctx, opts) }()

	if _, err := prompt.Pending(context.Background()); err != nil {
		t.Fatalf("pending conflict: %v", err)
	}
	cancel()

	final := <-done
	if final.Status != StatusFailed {
		t.Fatalf("status after cancellation = %s", final.Status)
	}
	if final.Error != context.Canceled.Error() {
		t.Fatalf("error = %q", final.Error)
	}
}
