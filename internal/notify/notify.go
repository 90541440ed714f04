package notify

import (
	"log/slog"
	"sync"
)

// Kind classifies a notification.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Notifier surfaces transient user-facing messages.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Log writes notifications through slog.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a slog-backed notifier
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Success(msg string) { l.logger.Info(msg) }
func (l *Log) Error(msg string)   { l.logger.Error(msg) }

// Message is one recorded notification.
type Message struct {
	Kind Kind
	Text string
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Success(msg string) { r.add(KindSuccess, msg) }
func (r *Recorder) Error(msg string)   { r.add(KindError, msg) }

func (r *Recorder) add(kind Kind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Kind: kind, Text: msg})
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return Message{}, false
	}
	return r.messages[len(r.messages)-1], true
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Success(string) {}
func (Discard) Error(string)   {}

// Confirmer asks the user to approve a destructive action. A nil
// Confirmer never approves.
type Confirmer func(prompt string) bool

// Confirm reports whether c approves prompt
func (c Confirmer) Confirm(prompt string) bool {
	return c != nil && c(prompt)
}
