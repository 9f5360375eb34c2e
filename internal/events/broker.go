// Package events fans project state changes out to interested subscribers in this process.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names what happened to a project.
type Type string

const (
	GenerationStarted   Type = "generation.started"
	GenerationCompleted Type = "generation.completed"
	GenerationFailed    Type = "generation.failed"
	ProjectUpdated      Type = "project.updated"
	ProjectDeleted      Type = "project.deleted"
)

// Event is delivered to every subscriber of ProjectID.
type Event struct {
	Type      Type       `json:"type"`
	ProjectID uuid.UUID  `json:"project_id"`
	VersionID *uuid.UUID `json:"version_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	At        time.Time  `json:"at"`
}

// Terminal reports whether the event ends a pending generation.
func (e Event) Terminal() bool {
	return e.Type == GenerationCompleted || e.Type == GenerationFailed || e.Type == ProjectDeleted
}

const subscriberBuffer = 16

// Broker is a per-project publish/subscribe hub. Publish never blocks: a subscriber whose
// buffer is full misses the event and is expected to re-read project state.
type Broker struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for one project and a cancel func that must be called
// to release it. The channel is closed by cancel.
func (b *Broker) Subscribe(projectID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[projectID] == nil {
		b.subs[projectID] = make(map[chan Event]struct{})
	}
	b.subs[projectID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[projectID], ch)
			if len(b.subs[projectID]) == 0 {
				delete(b.subs, projectID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to the current subscribers of e.ProjectID.
func (b *Broker) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[e.ProjectID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns how many subscriptions are open for a project.
func (b *Broker) Subscribers(projectID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[projectID])
}
