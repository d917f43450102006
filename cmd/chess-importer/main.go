package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	appcfg "github.com/kapu/chess-importer/internal/config"
	"github.com/kapu/chess-importer/internal/domain"
	"github.com/kapu/chess-importer/internal/importer"
	"github.com/kapu/chess-importer/internal/jobs"
	"github.com/kapu/chess-importer/internal/obslog"
	"github.com/kapu/chess-importer/internal/platform"
	"github.com/kapu/chess-importer/internal/store"
)

func main() {
	_ = godotenv.Load()

	var (
		userID       = flag.String("user", "local", "owner id the imported games are stored under")
		username     = flag.String("username", "", "platform username to import games for")
		platformName = flag.String("platform", "lichess", "source platform: lichess or chesscom")
		count        = flag.Int("count", 50, "number of recent games to import")
		autoTag      = flag.Bool("autotag", true, "derive opening and tags for each imported game")
		enqueue      = flag.Bool("enqueue", false, "queue the import as a background job instead of running it now")
		workerMode   = flag.Bool("worker", false, "run the background job worker")
		jobStatus    = flag.String("status", "", "print the state of a background job and exit")
		jobCancel    = flag.String("cancel", "", "cancel a background job and exit")
	)
	flag.Parse()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *jobStatus != "":
		runJobStatus(ctx, cfg, *jobStatus)
	case *jobCancel != "":
		runJobCancel(ctx, cfg, *jobCancel)
	case *workerMode:
		runWorker(ctx, cfg, logger)
	case *enqueue:
		runEnqueue(ctx, cfg, *userID, *username, *platformName, *count, *autoTag)
	default:
		runForeground(ctx, cfg, logger, *userID, *username, *platformName, *count, *autoTag)
	}
}

func mustPlatform(name string) domain.Platform {
	p, ok := domain.ParsePlatform(name)
	if !ok {
		log.Fatalf("unknown platform %q (want lichess or chesscom)", name)
	}
	return p
}

func openStore(cfg *appcfg.AppConfig, logger *zap.Logger) store.GameStore {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemoryStore()
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres init error: %v", err)
	}
	return pg
}

func newPipeline(cfg *appcfg.AppConfig, logger *zap.Logger) *importer.Pipeline {
	registry := platform.NewRegistry(platform.Config{
		LichessBaseURL:  cfg.LichessBaseURL,
		ChessComBaseURL: cfg.ChessComBaseURL,
		RetryAttempts:   cfg.RetryAttempts,
		RetryDelay:      cfg.RetryDelay,
	})
	st := openStore(cfg, logger)
	return importer.New(registry, st, importer.Config{ChunkSize: cfg.ChunkSize, CorpusLimit: cfg.CorpusLimit}, logger)
}

func runForeground(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger, userID, username, platformName string, count int, autoTag bool) {
	if strings.TrimSpace(username) == "" {
		log.Fatal("-username is required")
	}
	p := mustPlatform(platformName)
	pipeline := newPipeline(cfg, logger)
	prompt := importer.NewPrompt()

	opts := importer.Options{
		UserID:           userID,
		Username:         username,
		Platform:         p,
		Count:            count,
		AutoTag:          autoTag,
		OnDuplicateFound: prompt.Ask,
		OnProgress: func(pr importer.Progress) {
			if pr.CurrentDuplicate != nil {
				return
			}
			fmt.Printf("\r%d/%d imported, %d duplicates, %d failed", pr.Completed, pr.Total, pr.Duplicates, pr.Failed)
		},
	}

	done := make(chan importer.Progress, 1)
	go func() { done <- pipeline.Run(ctx, opts) }()

	// Conflicts suspend the run until answered on stdin.
	go func() {
		stdin := bufio.NewScanner(os.Stdin)
		for {
			conflict, err := prompt.Pending(ctx)
			if err != nil {
				return
			}
			res := askResolution(stdin, conflict)
			if prompt.Resolve(ctx, res) != nil {
				return
			}
		}
	}()

	final := <-done
	fmt.Println()
	if final.Status == importer.StatusFailed {
		logger.Error("import failed", zap.String("error", final.Error))
		os.Exit(1)
	}
	logger.Info("import finished",
		zap.Int("completed", final.Completed),
		zap.Int("duplicates", final.Duplicates),
		zap.Int("skipped", final.Skipped),
		zap.Int("failed", final.Failed))
}

func askResolution(stdin *bufio.Scanner, conflict *importer.Conflict) importer.Resolution {
	fmt.Printf("\nduplicate: %s vs %s on %s (%s match, score %.2f)\n",
		conflict.Candidate.White.Name, conflict.Candidate.Black.Name,
		conflict.Candidate.EndedAt.Format("2006-01-02"),
		conflict.Reason, conflict.Score)
	fmt.Print("[s]kip / [o]verwrite / [n]ew, append ! to apply to all: ")

	if !stdin.Scan() {
		return importer.Resolution{Action: importer.ActionSkip}
	}
	answer := strings.ToLower(strings.TrimSpace(stdin.Text()))
	res := importer.Resolution{Action: importer.ActionSkip}
	if strings.HasSuffix(answer, "!") {
		res.ApplyToAll = true
		answer = strings.TrimSuffix(answer, "!")
	}
	switch answer {
	case "o", "overwrite":
		res.Action = importer.ActionOverwrite
	case "n", "new":
		res.Action = importer.ActionImportAsNew
	}
	return res
}

func runEnqueue(ctx context.Context, cfg *appcfg.AppConfig, userID, username, platformName string, count int, autoTag bool) {
	if strings.TrimSpace(username) == "" {
		log.Fatal("-username is required")
	}
	p := mustPlatform(platformName)
	queue, err := jobs.NewQueue(cfg.RedisURL, cfg.JobTTL)
	if err != nil {
		log.Fatalf("queue init error: %v", err)
	}
	defer func() { _ = queue.Close() }()

	job, err := queue.Enqueue(ctx, jobs.Spec{
		UserID:   userID,
		Username: username,
		Platform: p,
		Count:    count,
		AutoTag:  autoTag,
	})
	if err != nil {
		log.Fatalf("enqueue error: %v", err)
	}
	fmt.Println(job.ID)
}

func runWorker(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) {
	queue, err := jobs.NewQueue(cfg.RedisURL, cfg.JobTTL)
	if err != nil {
		log.Fatalf("queue init error: %v", err)
	}
	defer func() { _ = queue.Close() }()

	pipeline := newPipeline(cfg, logger)
	worker := jobs.NewWorker(queue, pipeline, cfg.JobPollInterval, logger)
	logger.Info("job worker started", zap.Duration("poll_interval", cfg.JobPollInterval))
	worker.Run(ctx)
	logger.Info("job worker stopped")
}

func runJobStatus(ctx context.Context, cfg *appcfg.AppConfig, jobID string) {
	queue, err := jobs.NewQueue(cfg.RedisURL, cfg.JobTTL)
	if err != nil {
		log.Fatalf("queue init error: %v", err)
	}
	defer func() { _ = queue.Close() }()

	job, err := queue.Get(ctx, jobID)
	if err != nil {
		log.Fatalf("job lookup error: %v", err)
	}
	if job == nil {
		log.Fatalf("job %s not found", jobID)
	}
	fmt.Printf("job %s: %s\n", job.ID, job.Status)
	fmt.Printf("  %d/%d imported, %d duplicates, %d failed\n",
		job.Progress.Completed, job.Progress.Total, job.Progress.Duplicates, job.Progress.Failed)
	if job.Error != "" {
		fmt.Printf("  error: %s\n", job.Error)
	}
}

func runJobCancel(ctx context.Context, cfg *appcfg.AppConfig, jobID string) {
	queue, err := jobs.NewQueue(cfg.RedisURL, cfg.JobTTL)
	if err != nil {
		log.Fatalf("queue init error: %v", err)
	}
	defer func() { _ = queue.Close() }()

	if err := queue.Cancel(ctx, jobID); err != nil {
		log.Fatalf("cancel error: %v", err)
	}
	fmt.Printf("job %s canceled\n", jobID)
}
