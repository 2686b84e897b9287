package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeStateChanged Type = "state_changed"
	TypeStatusReport Type = "status_report"
	TypeProgress     Type = "progress"
	TypeJobFinished  Type = "job_finished"
)

// Event is one occurrence on the machine link. JobID is uuid.Nil for
// session-level events (state changes, status reports).
type Event struct {
	Type      Type      `json:"type"`
	JobID     uuid.UUID `json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// ProgressData reports one completed line of a stream job. Index is the
// number of lines acked so far; Line is the last one.
type ProgressData struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Line  string `json:"line"`
}

// JobFinishedData is the terminal report of a stream job.
type JobFinishedData struct {
	Result string `json:"result"`
	Index  int    `json:"index"`
	Reason string `json:"reason,omitempty"`
}

func New(t Type, jobID uuid.UUID, data any) Event {
	return Event{Type: t, JobID: jobID, Timestamp: time.Now(), Data: data}
}

// Streamer fans events out to subscribers. Subscribing with uuid.Nil
// receives everything; subscribing with a job ID receives only that
// job's events. Slow subscribers drop events rather than block the
// machine loop.
type Streamer struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID][]chan Event
}

func NewStreamer() *Streamer {
	return &Streamer{
		subscribers: make(map[uuid.UUID][]chan Event),
	}
}

func (s *Streamer) Subscribe(jobID uuid.UUID) <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 100)
	s.subscribers[jobID] = append(s.subscribers[jobID], ch)
	return ch
}

func (s *Streamer) Unsubscribe(jobID uuid.UUID, ch <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
}

func (s *Streamer) Broadcast(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deliver := func(chans []chan Event) {
		for _, ch := range chans {
			select {
			case ch <- ev:
			default:
				// Skip if channel is full
			}
		}
	}

	if ev.JobID != uuid.Nil {
		deliver(s.subscribers[ev.JobID])
	}
	deliver(s.subscribers[uuid.Nil])
}
