// Package notify carries user-visible notifications (toasts) raised by the
// reconciler. Presentation code decides how to show them.
package notify

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Level is the severity of a notification.
type Level int

const (
	Info Level = iota
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Notification is a single message for the user.
type Notification struct {
	Level   Level
	Scope   string
	Title   string
	Message string
}

func (n Notification) String() string {
	if n.Message == "" {
		return fmt.Sprintf("[%s] %s", n.Level, n.Title)
	}
	return fmt.Sprintf("[%s] %s: %s", n.Level, n.Title, n.Message)
}

// Notifier receives notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// Log writes notifications to a zap logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(n Notification) {
	fields := []zap.Field{zap.String("scope", n.Scope), zap.String("detail", n.Message)}
	switch n.Level {
	case Error:
		l.logger.Error(n.Title, fields...)
	case Warning:
		l.logger.Warn(n.Title, fields...)
	default:
		l.logger.Info(n.Title, fields...)
	}
}

// Recorder keeps every notification it receives. Useful in tests and for
// draining toasts in a CLI.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Drain returns the recorded notifications and forgets them.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

// Count returns how many notifications of level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.Level == level {
			n++
		}
	}
	return n
}
