package server

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/driftline/driftboard/pkg/protocol"
)

var (
	// ErrInvalidThread means a create request with missing or
	// non-positive parameters.
	ErrInvalidThread = errors.New("invalid thread parameters")
	// ErrNoSuchThread means the thread id is unknown.
	ErrNoSuchThread = errors.New("no such thread")
	// ErrNotOwner means a delete attempt by someone other than the
	// thread's creator.
	ErrNotOwner = errors.New("not thread owner")
	// ErrEmptyPost means a post with an empty body.
	ErrEmptyPost = errors.New("empty post body")
)

// Board is the in-memory collection of TTL-bearing threads. Thread ids
// are unique and strictly increasing for the process lifetime. TTLs are
// advisory: an expired thread stays listable, postable and fetchable
// until its owner deletes it; clients render the expiry.
type Board struct {
	mu          sync.RWMutex
	threads     map[int64]*protocol.Thread
	nextID      int64
	maxTitleLen int
	metrics     *Metrics
}

// NewBoard creates an empty board. Titles longer than maxTitleLen are
// truncated on create.
func NewBoard(maxTitleLen int) *Board {
	return &Board{
		threads:     make(map[int64]*protocol.Thread),
		nextID:      1,
		maxTitleLen: maxTitleLen,
	}
}

// SetMetrics attaches metrics to the board.
func (b *Board) SetMetrics(metrics *Metrics) {
	b.metrics = metrics
}

// Create validates and stores a new thread, assigning the next id.
func (b *Board) Create(username, title, body string, ttl int64) (*protocol.Thread, error) {
	if len(title) < 1 || len(body) < 1 || ttl < 1 {
		return nil, ErrInvalidThread
	}
	if len(title) > b.maxTitleLen {
		title = title[:b.maxTitleLen]
	}

	b.mu.Lock()
	thread := &protocol.Thread{
		ID:       b.nextID,
		Username: username,
		Title:    title,
		Body:     body,
		TTL:      ttl,
		Created:  time.Now().UnixMilli(),
		Messages: []protocol.Post{},
	}
	b.nextID++
	b.threads[thread.ID] = thread
	count := len(b.threads)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordThreads(count)
	}
	return snapshotThread(thread), nil
}

// Get returns a copy of the thread with the given id.
func (b *Board) Get(id int64) (*protocol.Thread, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	thread, ok := b.threads[id]
	if !ok {
		return nil, false
	}
	return snapshotThread(thread), true
}

// List returns all threads sorted ascending by remaining TTL at call
// time. Expired threads appear first with negative remaining TTL; they
// are never filtered out here.
func (b *Board) List() []*protocol.Thread {
	now := time.Now().UnixMilli()

	b.mu.RLock()
	out := make([]*protocol.Thread, 0, len(b.threads))
	for _, thread := range b.threads {
		out = append(out, snapshotThread(thread))
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Remaining(now) < out[j].Remaining(now)
	})
	return out
}

// Delete removes a thread if and only if username owns it.
func (b *Board) Delete(id int64, username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	thread, ok := b.threads[id]
	if !ok {
		return ErrNoSuchThread
	}
	if thread.Username != username {
		return ErrNotOwner
	}
	delete(b.threads, id)

	if b.metrics != nil {
		b.metrics.RecordThreads(len(b.threads))
	}
	return nil
}

// Post appends a non-empty message to a thread and returns the full
// updated thread.
func (b *Board) Post(id int64, username, message string) (*protocol.Thread, error) {
	if len(message) == 0 {
		return nil, ErrEmptyPost
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	thread, ok := b.threads[id]
	if !ok {
		return nil, ErrNoSuchThread
	}
	thread.Messages = append(thread.Messages, protocol.Post{
		Username: username,
		Message:  message,
	})
	return snapshotThread(thread), nil
}

// Len returns the number of threads on the board, expired ones included.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.threads)
}

// snapshotThread copies a thread so callers can marshal it outside the
// board lock while posts keep appending.
func snapshotThread(t *protocol.Thread) *protocol.Thread {
	copied := *t
	copied.Messages = make([]protocol.Post, len(t.Messages))
	copy(copied.Messages, t.Messages)
	return &copied
}

// titlePreview is used in debug logs; long titles are elided.
func titlePreview(title string) string {
	const max = 24
	if len(title) <= max {
		return title
	}
	return strings.TrimSpace(title[:max]) + "…"
}
