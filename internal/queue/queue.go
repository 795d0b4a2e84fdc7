// Package queue implements the background job queue adapter on top of
// github.com/hibiken/asynq (Redis-backed): an asynq.Server + asynq.ServeMux
// pair, one task type per job kind, started and shut down from the worker
// process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/artemis/databridge/internal/job"
)

const (
	// TaskImport and TaskExport are the two named job kinds.
	TaskImport = "import"
	TaskExport = "export"

	maxRetry     = 3
	fixedBackoff = 60 * time.Second
)

// Payload is enqueued for both job kinds; the worker dispatches on Kind.
type Payload struct {
	JobID string   `json:"jobId"`
	Kind  job.Kind `json:"kind"`
}

// Client enqueues jobs with a deterministic broker-side id
// ("<kind>-<jobId>"), so a retried enqueue call cannot duplicate a task.
type Client struct {
	client *asynq.Client
}

// NewClient dials addr (a Redis address, e.g. "localhost:6379").
func NewClient(addr string) *Client {
	return &Client{client: asynq.NewClient(asynq.RedisClientOpt{Addr: addr})}
}

func (c *Client) Close() error { return c.client.Close() }

// Enqueue submits a job for background processing. The task type is the
// job kind; TaskID is deterministic so asynq rejects a duplicate enqueue of
// the same job id outright (ErrDuplicateTask), which callers treat as
// already-enqueued rather than failure.
func (c *Client) Enqueue(ctx context.Context, j *job.Job) error {
	payload, err := json.Marshal(Payload{JobID: j.ID, Kind: j.Kind})
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}

	taskID := fmt.Sprintf("%s-%s", j.Kind, j.ID)
	task := asynq.NewTask(string(j.Kind), payload)

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.TaskID(taskID),
		asynq.MaxRetry(maxRetry),
		asynq.RetryDelayFunc(func(n int, err error, t *asynq.Task) time.Duration { return fixedBackoff }),
	)
	if err != nil && err != asynq.ErrDuplicateTask {
		return fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}
	return nil
}

// Server wraps an asynq.Server + ServeMux pair, dispatching import and
// export tasks to the given handlers.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// HandlerFunc processes one dequeued job by id.
type HandlerFunc func(ctx context.Context, jobID string) error

// NewServer builds a consumer with the given configurable job-worker
// concurrency.
func NewServer(redisAddr string, concurrency int, onImport, onExport HandlerFunc) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{"default": 1},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskImport, taskHandler(onImport))
	mux.HandleFunc(TaskExport, taskHandler(onExport))
	return &Server{srv: srv, mux: mux}
}

func taskHandler(fn HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p Payload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal task payload: %w", err)
		}
		return fn(ctx, p.JobID)
	}
}

// Run starts the consumer; it blocks until Shutdown is called or the
// server encounters a fatal error.
func (s *Server) Run() error {
	return s.srv.Run(s.mux)
}

// Shutdown gracefully stops the consumer, waiting for in-flight tasks.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}
