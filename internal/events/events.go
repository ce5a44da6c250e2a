package events

import (
	"log"
	"sync"
	"time"
)

// Logger receives mission events. Implementations must not block the caller
// for long; there is no return contract.
type Logger interface {
	Log(category, message string)
}

// Event is a single logged entry.
type Event struct {
	At       time.Time `json:"at"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
}

type Std struct {
	l *log.Logger
}

// NewStd logs through l, or the standard logger when l is nil.
func NewStd(l *log.Logger) *Std {
	return &Std{l: l}
}

func (s *Std) Log(category, message string) {
	if s == nil {
		return
	}
	if s.l == nil {
		log.Printf("event category=%q msg=%q", category, message)
		return
	}
	s.l.Printf("event category=%q msg=%q", category, message)
}

// Multi fans out to every non-nil logger.
type Multi []Logger

func (m Multi) Log(category, message string) {
	for _, l := range m {
		if l != nil {
			l.Log(category, message)
		}
	}
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

func (r *Recorder) Log(category, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	r.events = append(r.events, Event{At: now().UTC(), Category: category, Message: message})
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Has reports whether an event with this category and message was logged.
func (r *Recorder) Has(category, message string) bool {
	for _, e := range r.Events() {
		if e.Category == category && e.Message == message {
			return true
		}
	}
	return false
}

// Discard drops everything.
type Discard struct{}

func (Discard) Log(string, string) {}
