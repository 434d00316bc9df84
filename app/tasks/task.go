package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindExtractContent Kind = "extract_content"
	KindSyncFeedSeed   Kind = "sync_feed_seed"
)

// DefaultMaxAttempts counts the first run, so a task is retried three times.
const DefaultMaxAttempts = 4

// Runnable is what the queue executes. Implementations embed Task.
type Runnable interface {
	Execute(ctx context.Context) error
	state() *Task
}

// Task is the bookkeeping shared by all task kinds. Subject names what the
// task works on (a feed URL, an article link) for logging.
type Task struct {
	ID          string
	Kind        Kind
	Subject     string
	Attempts    int
	MaxAttempts int

	startedAt time.Time
}

func NewTask(kind Kind, subject string) Task {
	return Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Subject:     subject,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (t *Task) state() *Task {
	return t
}

// LogValue groups the task identity under a single log attribute.
func (t *Task) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", t.ID),
		slog.String("kind", string(t.Kind)),
		slog.String("subject", t.Subject),
		slog.Int("attempt", t.Attempts),
	)
}

// Elapsed is the time spent in the current attempt.
func (t *Task) Elapsed() time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	return time.Since(t.startedAt)
}

func (t *Task) begin() {
	t.Attempts++
	t.startedAt = time.Now()
}

func (t *Task) exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}

// retryDelay doubles from one second per attempt, up to maxRetryDelay.
func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		return maxRetryDelay
	}
	return min(time.Duration(1<<uint(attempts-1))*time.Second, maxRetryDelay)
}

// PermanentError marks a failure that another attempt cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func permanent(err error) error {
	return &PermanentError{Err: err}
}

func isPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
