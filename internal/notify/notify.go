// Package notify carries user-visible toasts from the flows that raise them
// to whichever surface renders them.
package notify

import (
	"sync"
	"time"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Actions a notification may offer
const (
	ActionUpgrade = "upgrade"
	ActionSignup  = "signup"
	ActionContact = "contact"
	ActionRetry   = "retry"
)

type Notification struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Action    string    `json:"action,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Notifier interface {
	Notify(n Notification)
}

// Recorder buffers notifications until the visitor's next poll of the queue.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// Drain returns the buffered notifications and empties the buffer.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

// Peek returns a copy of the buffer without consuming it.
func (r *Recorder) Peek() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, x := range m {
		x.Notify(n)
	}
}

func Info(n Notifier, msg string) {
	n.Notify(Notification{Level: LevelInfo, Message: msg})
}

func Success(n Notifier, msg string) {
	n.Notify(Notification{Level: LevelSuccess, Message: msg})
}

func Error(n Notifier, msg string) {
	n.Notify(Notification{Level: LevelError, Message: msg})
}

// WithAction raises a notification carrying a call to action.
func WithAction(n Notifier, level Level, msg, action string) {
	n.Notify(Notification{Level: level, Message: msg, Action: action})
}
