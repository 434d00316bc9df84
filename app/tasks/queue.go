package tasks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/feed"
)

var _ QueueInterface = (*Queue)(nil)

var (
	ErrQueueFull    = errors.New("task queue is full")
	ErrQueueStopped = errors.New("task queue is stopped")
)

const (
	defaultQueueSize = 300
	taskTimeout      = 5 * time.Minute
	maxRetryDelay    = 30 * time.Second
)

// Deps are the collaborators tasks need.
type Deps struct {
	Articles   database.ArticleRepository
	Feeds      database.FeedRepository
	HTTPClient *http.Client
	Extractor  *feed.ContentExtractor
	UserAgent  string
	Timeout    time.Duration
}

type Queue struct {
	deps        Deps
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan Runnable

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewQueue(deps Deps, workerCount int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if deps.Extractor == nil {
		deps.Extractor = feed.NewContentExtractor()
	}
	if workerCount <= 0 {
		workerCount = 1
	}

	return &Queue{
		deps:        deps,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan Runnable, defaultQueueSize),
	}
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.stopped {
		return
	}
	q.started = true

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	slog.Debug("Task queue started", "workers", q.workerCount)
}

// Stop cancels running tasks and waits for the workers. Queued tasks are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *Queue) EnqueueTask(task Runnable) error {
	if q.ctx.Err() != nil {
		return ErrQueueStopped
	}

	select {
	case q.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) EnqueueExtraction(article database.Article) error {
	return q.EnqueueTask(NewExtractContentTask(article.ID, article.URL, q.deps))
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case task := <-q.taskQueue:
			q.executeTask(id, task)

		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) executeTask(workerID int, r Runnable) {
	task := r.state()
	task.begin()

	taskCtx, cancel := context.WithTimeout(q.ctx, taskTimeout)
	defer cancel()

	err := r.Execute(taskCtx)
	if err == nil {
		return
	}

	if isPermanent(err) {
		slog.Error("Task failed permanently", "worker_id", workerID, "task", task, "error", err)
		return
	}

	if task.exhausted() {
		slog.Error("Task failed after maximum attempts", "worker_id", workerID, "task", task, "max_attempts", task.MaxAttempts, "error", err)
		return
	}

	delay := retryDelay(task.Attempts)
	slog.Warn("Task failed, retry scheduled", "worker_id", workerID, "task", task, "delay", delay.String(), "error", err)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-q.ctx.Done():
			slog.Debug("Task queue stopped, dropping retry", "task", task)
		case <-timer.C:
			if err := q.EnqueueTask(r); err != nil {
				slog.Error("Failed to re-enqueue task for retry", "task", task, "error", err)
			}
		}
	}()
}
