package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrQueueClosed = errors.New("notification queue is closed")
)

type Notification struct {
	Title    string
	Message  string
	BodyHTML string // optional article excerpt, rendered as markdown by senders that support it
	Link     string
	Tags     []string
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Queue accepts notifications without blocking and delivers them from a
// single background worker. Delivery is best effort.
type Queue struct {
	sender Sender
	ch     chan Notification

	mu      sync.Mutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQueue(sender Sender, size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{
		sender: sender,
		ch:     make(chan Notification, size),
	}
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	q.wg.Add(1)
	go q.worker(ctx)
}

// Stop delivers what is already queued and waits for the worker to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	started := q.started
	q.mu.Unlock()

	if started {
		q.wg.Wait()
		q.cancel()
	}
}

func (q *Queue) Enqueue(n Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for n := range q.ch {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := q.sender.Send(sendCtx, n); err != nil {
			slog.Warn("Notification delivery failed", "title", n.Title, "error", err)
		}
		cancel()
	}
}

// LogSender writes notifications to the log. Used when no push topic is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n Notification) error {
	slog.Info("Notification", "title", n.Title, "message", n.Message, "link", n.Link, "tags", n.Tags)
	return nil
}
