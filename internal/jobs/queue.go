// Package jobs provides a redis-backed queue for background import runs and
// the worker that drains it.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kapu/chess-importer/internal/domain"
	"github.com/kapu/chess-importer/internal/importer"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Spec is the caller-supplied description of an import to run in the
// background.
type Spec struct {
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	Platform domain.Platform `json:"platform"`
	Count    int             `json:"count"`
	AutoTag  bool            `json:"auto_tag"`
}

func (s Spec) validate() error {
	if strings.TrimSpace(s.UserID) == "" || strings.TrimSpace(s.Username) == "" {
		return fmt.Errorf("user id and username are required")
	}
	if !s.Platform.Valid() {
		return fmt.Errorf("unknown platform %q", s.Platform)
	}
	if s.Count <= 0 {
		return fmt.Errorf("invalid game count %d", s.Count)
	}
	return nil
}

// Job is the persisted record of one background import.
type Job struct {
	ID string `json:"id"`
	Spec

	Status   Status            `json:"status"`
	Progress importer.Progress `json:"progress"`
	Error    string            `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

const keyPending = "import:jobs:pending"

// Queue stores job records as JSON values with a TTL and keeps a FIFO list of
// pending job ids.
type Queue struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewQueue(redisURL string, ttl time.Duration) (*Queue, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for job queue")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewQueueWithClient(rdb, ttl), nil
}

func NewQueueWithClient(rdb *redis.Client, ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Queue{rdb: rdb, ttl: ttl}
}

func (q *Queue) Close() error {
	if q == nil || q.rdb == nil {
		return nil
	}
	return q.rdb.Close()
}

func (q *Queue) keyJob(id string) string { return "import:job:" + strings.TrimSpace(id) }

func (q *Queue) Enqueue(ctx context.Context, spec Spec) (*Job, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	job := &Job{
		ID:        uuid.NewString(),
		Spec:      spec,
		Status:    StatusQueued,
		Progress:  importer.Progress{Total: spec.Count, Status: importer.StatusIdle},
		CreatedAt: time.Now().UTC(),
	}
	if err := q.Update(ctx, job); err != nil {
		return nil, err
	}
	if err := q.rdb.RPush(ctx, keyPending, job.ID).Err(); err != nil {
		return nil, fmt.Errorf("push pending job: %w", err)
	}
	return job, nil
}

// Get returns nil without error when the job does not exist or its record has
// expired.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, q.keyJob(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	return &job, nil
}

// Cancel marks a non-terminal job canceled. A running job observes the mark
// at its next progress write and stops.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", id, job.Status)
	}
	now := time.Now().UTC()
	job.Status = StatusCanceled
	job.FinishedAt = &now
	return q.Update(ctx, job)
}

// NextPending pops job ids until it finds one that still exists and was not
// canceled while queued. Returns nil when the list is empty.
func (q *Queue) NextPending(ctx context.Context) (*Job, error) {
	for {
		id, err := q.rdb.LPop(ctx, keyPending).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		job, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil || job.Status != StatusQueued {
			continue
		}
		return job, nil
	}
}

func (q *Queue) Update(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	if err := q.rdb.Set(ctx, q.keyJob(job.ID), raw, q.ttl).Err(); err != nil {
		return fmt.Errorf("store job record: %w", err)
	}
	return nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	pass, _ := u.User.Password()
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			db = v
		}
	}
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
