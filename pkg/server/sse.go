package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/logflow/tabprep/pkg/jobs"
)

// SSE event names.
const (
	EventInit     = "init"
	EventProgress = "progress"
	EventComplete = "complete"
	EventFailed   = "failed"
)

// Event is one server-sent event.
type Event struct {
	Name string
	ID   string
	Data any
}

// Broker fans job updates out to server-sent event subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a buffered channel for a job's events.
func (b *Broker) Subscribe(jobID string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 16)
	if b.subscribers[jobID] == nil {
		b.subscribers[jobID] = make(map[chan Event]struct{})
	}
	b.subscribers[jobID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(jobID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[jobID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, jobID)
	}
}

// Subscribers counts open subscriptions for a job.
func (b *Broker) Subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[jobID])
}

// Publish converts a job update into an event. It is meant to be
// registered as a runner hook. Slow subscribers drop progress events but
// always get room for the terminal one.
func (b *Broker) Publish(job *jobs.Job) {
	ev := Event{Name: EventProgress, ID: strconv.FormatInt(time.Now().UnixNano(), 10), Data: job}
	switch job.State {
	case jobs.StateCompleted:
		ev.Name = EventComplete
	case jobs.StateFailed:
		ev.Name = EventFailed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[job.ID] {
		if ev.Name != EventProgress {
			// Make room so the closing event is never lost.
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
			}
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.runner.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.broker.Subscribe(id)
	defer s.broker.Unsubscribe(id, ch)

	// Re-read after subscribing so a job that finished in between is seen.
	if latest, err := s.runner.Get(r.Context(), id); err == nil {
		job = latest
	}
	writeEvent(w, Event{Name: EventInit, Data: job})
	flusher.Flush()
	if job.State.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
			if ev.Name == EventComplete || ev.Name == EventFailed {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) {
	if ev.ID != "" {
		fmt.Fprintf(w, "id: %s\n", ev.ID)
	}
	fmt.Fprintf(w, "event: %s\n", ev.Name)
	data, _ := json.Marshal(ev.Data)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
