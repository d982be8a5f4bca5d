// Package notify queues transient user notifications until the page layer
// drains them.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

const defaultCapacity = 50

type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Queue is bounded; when full the oldest notification is dropped.
type Queue struct {
	capacity int

	mu      sync.Mutex
	pending []Notification
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{capacity: capacity}
}

func (q *Queue) Push(level Level, message string) {
	n := Notification{
		ID:        uuid.New().String(),
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.capacity {
		q.pending = q.pending[1:]
	}
	q.pending = append(q.pending, n)
}

func (q *Queue) Success(message string) { q.Push(LevelSuccess, message) }
func (q *Queue) Error(message string)   { q.Push(LevelError, message) }
func (q *Queue) Info(message string)    { q.Push(LevelInfo, message) }

// Drain returns the pending notifications oldest first and clears them.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
