// Package importer drives the end-to-end game import flow: validate the
// username, fetch a batch, reconcile each game against the stored corpus,
// resolve duplicate conflicts, tag, persist and report progress.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-importer/internal/autotag"
	"github.com/kapu/chess-importer/internal/dedup"
	"github.com/kapu/chess-importer/internal/domain"
	"github.com/kapu/chess-importer/internal/identity"
	"github.com/kapu/chess-importer/internal/platform"
	"github.com/kapu/chess-importer/internal/store"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusImporting Status = "importing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Action string

const (
	ActionSkip        Action = "skip"
	ActionOverwrite   Action = "overwrite"
	ActionImportAsNew Action = "new"
)

// Resolution is the caller's answer to a duplicate conflict. ApplyToAll
// suppresses further prompts for the remainder of the run.
type Resolution struct {
	Action     Action
	ApplyToAll bool
}

// Conflict describes a candidate game that matched a stored one.
type Conflict struct {
	Identity  string
	Candidate domain.RawGame
	Existing  *domain.ImportedGame
	Reason    dedup.MatchReason
	Score     float64
}

// Progress is a full snapshot emitted after every state change. Snapshots are
// emitted strictly sequentially within one run.
type Progress struct {
	Total      int    `json:"total"`
	Completed  int    `json:"completed"` // persisted + skipped
	Failed     int    `json:"failed"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	// CurrentDuplicate is set while a conflict awaits resolution.
	CurrentDuplicate *Conflict `json:"currentDuplicate,omitempty"`
}

type ProgressFunc func(Progress)

// ResolveFunc supplies the caller's duplicate decision. The pipeline blocks
// on it without its own timeout; cancellation belongs to the caller's ctx.
type ResolveFunc func(ctx context.Context, conflict *Conflict) (Resolution, error)

// Options are immutable per run.
type Options struct {
	UserID   string
	Username string
	Platform domain.Platform
	Count    int
	AutoTag  bool

	OnProgress       ProgressFunc
	OnDuplicateFound ResolveFunc
}

type Config struct {
	ChunkSize   int
	CorpusLimit int
}

type Pipeline struct {
	registry *platform.Registry
	store    store.GameStore
	cfg      Config
	logger   *zap.Logger
}

func New(registry *platform.Registry, st store.GameStore, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.CorpusLimit <= 0 {
		cfg.CorpusLimit = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{registry: registry, store: st, cfg: cfg, logger: logger}
}

// run owns all mutable state of a single import, including the apply-to-all
// decision, which never leaks across runs.
type run struct {
	p    *Pipeline
	opts Options

	corpus []*domain.ImportedGame

	applyToAll *Resolution

	total      int
	persisted  int
	skipped    int
	failed     int
	duplicates int

	status   Status
	errMsg   string
	conflict *Conflict
}

// Run executes one import and returns the final progress snapshot. Fatal
// errors surface through the progress channel, not as a returned error, so
// callers branch on Status.
func (p *Pipeline) Run(ctx context.Context, opts Options) Progress {
	r := &run{p: p, opts: opts, total: opts.Count, status: StatusIdle}

	if opts.Count <= 0 {
		return r.fail("invalid requested game count")
	}
	client, err := p.registry.For(opts.Platform)
	if err != nil {
		return r.fail(err.Error())
	}

	if !client.ValidateUsername(ctx, opts.Username) {
		return r.fail(fmt.Sprintf("Invalid username for %s", opts.Platform))
	}

	r.status = StatusImporting
	r.emit()

	games, err := client.FetchGames(ctx, opts.Username, opts.Count)
	if err != nil {
		return r.fail(err.Error())
	}

	r.corpus, err = p.store.ListForUser(ctx, opts.UserID, opts.Platform, p.cfg.CorpusLimit)
	if err != nil {
		return r.fail(err.Error())
	}

	// Fixed-size chunks bound batch load on the store; games inside a chunk
	// stay in source order so apply-to-all behaves predictably.
	for start := 0; start < len(games); start += p.cfg.ChunkSize {
		end := start + p.cfg.ChunkSize
		if end > len(games) {
			end = len(games)
		}
		for _, raw := range games[start:end] {
			if err := r.processGame(ctx, raw); err != nil {
				return r.fail(err.Error())
			}
		}
	}

	r.status = StatusCompleted
	r.emit()
	return r.snapshot()
}

func (r *run) processGame(ctx context.Context, raw domain.RawGame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	gameID := identity.Resolve(r.opts.Platform, raw)
	verdict := dedup.CheckForDuplicate(raw, gameID, r.corpus)

	overwrite := false
	skip := false
	if verdict.IsDuplicate {
		r.duplicates++
		r.conflict = &Conflict{
			Identity:  gameID,
			Candidate: raw,
			Existing:  verdict.Matched,
			Reason:    verdict.MatchReason,
			Score:     verdict.Score,
		}
		r.emit()

		res, err := r.resolveConflict(ctx, r.conflict)
		r.conflict = nil
		if err != nil {
			return err
		}
		switch res.Action {
		case ActionOverwrite:
			overwrite = true
		default:
			// Skip, import-as-new and unknown actions all leave the stored
			// record untouched.
			skip = true
		}
		r.emit()
	}

	if skip {
		r.skipped++
		r.emit()
		return nil
	}

	record := r.buildRecord(raw, gameID)
	if _, err := r.p.store.SaveOrReplace(ctx, record, overwrite); err != nil {
		if errors.Is(err, store.ErrDuplicateGame) {
			// Reconciliation race: the identity appeared between the corpus
			// load and the write. Reclassified as duplicate, not failure.
			r.duplicates++
			r.skipped++
			r.emit()
			return nil
		}
		r.failed++
		r.p.logger.Warn("persist imported game failed",
			zap.String("identity", gameID),
			zap.String("user_id", r.opts.UserID),
			zap.Error(err))
		r.emit()
		return nil
	}

	r.persisted++
	r.emit()
	return nil
}

// resolveConflict suspends the run until a decision is available. A prior
// apply-to-all decision answers without prompting; without a resolver the
// default is skip, never a silent overwrite.
func (r *run) resolveConflict(ctx context.Context, conflict *Conflict) (Resolution, error) {
	if r.applyToAll != nil {
		return *r.applyToAll, nil
	}
	if r.opts.OnDuplicateFound == nil {
		return Resolution{Action: ActionSkip}, nil
	}

	res, err := r.opts.OnDuplicateFound(ctx, conflict)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Resolution{}, ctxErr
	}
	if err != nil {
		r.p.logger.Warn("duplicate resolver failed, skipping game",
			zap.String("identity", conflict.Identity),
			zap.Error(err))
		return Resolution{Action: ActionSkip}, nil
	}
	if res.ApplyToAll {
		saved := res
		r.applyToAll = &saved
	}
	return res, nil
}

func (r *run) buildRecord(raw domain.RawGame, gameID string) *domain.ImportedGame {
	record := &domain.ImportedGame{
		UserID:      r.opts.UserID,
		Source:      r.opts.Platform,
		OriginalID:  gameID,
		PGN:         raw.PGN,
		Date:        raw.EndedAt,
		TimeControl: raw.TimeControl,
		Result:      raw.Result,
		White:       raw.White,
		Black:       raw.Black,
		Tags:        []string{},
		ImportedAt:  time.Now().UTC(),
	}
	if r.opts.AutoTag {
		tagged := autotag.TagGame(raw.PGN)
		record.Opening = tagged.Opening
		record.Tags = tagged.Tags
	}
	return record
}

func (r *run) snapshot() Progress {
	status := r.status
	if status == StatusImporting && r.total > 0 && r.persisted+r.skipped+r.failed >= r.total {
		status = StatusCompleted
	}
	return Progress{
		Total:            r.total,
		Completed:        r.persisted + r.skipped,
		Failed:           r.failed,
		Duplicates:       r.duplicates,
		Skipped:          r.skipped,
		Status:           status,
		Error:            r.errMsg,
		CurrentDuplicate: r.conflict,
	}
}

func (r *run) emit() {
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(r.snapshot())
	}
}

func (r *run) fail(msg string) Progress {
	r.status = StatusFailed
	r.errMsg = msg
	r.conflict = nil
	r.emit()
	return r.snapshot()
}
