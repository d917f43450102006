package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	DatabaseURL string
	RedisURL    string

	LichessBaseURL  string
	ChessComBaseURL string

	RetryAttempts int
	RetryDelay    time.Duration

	ChunkSize   int
	CorpusLimit int

	JobPollInterval time.Duration
	JobTTL          time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		LichessBaseURL:  "https://lichess.org/api",
		ChessComBaseURL: "https://api.chess.com/pub",
		RetryAttempts:   3,
		RetryDelay:      time.Second,
		ChunkSize:       10,
		CorpusLimit:     1000,
		JobPollInterval: time.Second,
		JobTTL:          24 * time.Hour,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	if v := strings.TrimSpace(os.Getenv("LICHESS_BASE_URL")); v != "" {
		cfg.LichessBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHESSCOM_BASE_URL")); v != "" {
		cfg.ChessComBaseURL = v
	}

	if v := strings.TrimSpace(os.Getenv("IMPORT_RETRY_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("IMPORT_RETRY_DELAY_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("IMPORT_CHUNK_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("IMPORT_CORPUS_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CorpusLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("JOB_POLL_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.JobPollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("JOB_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.JobTTL = time.Duration(n) * time.Second
		}
	}

	return cfg, nil
}
