package tui

import (
	"sync"
	"time"

	"github.com/foxzi/followup/internal/notify"
)

// DefaultStatusTTL is how long a notification stays on the status line.
const DefaultStatusTTL = 4 * time.Second

// StatusLine is a notifier that keeps only the latest message, which
// expires after ttl.
type StatusLine struct {
	ttl time.Duration
	now func() time.Time

	mu  sync.Mutex
	msg notify.Message
	at  time.Time
}

// NewStatusLine creates a status line. A ttl of zero uses DefaultStatusTTL.
func NewStatusLine(ttl time.Duration) *StatusLine {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusLine{ttl: ttl, now: time.Now}
}

func (s *StatusLine) Success(msg string) { s.set(notify.KindSuccess, msg) }
func (s *StatusLine) Error(msg string)   { s.set(notify.KindError, msg) }

func (s *StatusLine) set(kind notify.Kind, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msg = notify.Message{Kind: kind, Text: msg}
	s.at = s.now()
}

// Current returns the latest message unless it has expired.
func (s *StatusLine) Current() (notify.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msg.Text == "" || s.now().Sub(s.at) >= s.ttl {
		return notify.Message{}, false
	}
	return s.msg, true
}
