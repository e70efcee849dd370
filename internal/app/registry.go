package app

import (
	"sync"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Entry pairs participant meta with the engine subscriber backing it.
type Entry struct {
	Participant domain.Participant
	Subscriber  core.Subscriber
}

// ParticipantRegistry keeps remote participants keyed by connection id in
// insertion order.
type ParticipantRegistry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{entries: make(map[string]Entry)}
}

// Joined inserts p. A duplicate connection id replaces the existing entry in
// place; the replaced entry is returned so its subscriber can be released.
func (r *ParticipantRegistry) Joined(p domain.Participant, sub core.Subscriber) (replaced *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[p.ConnectionID]; ok {
		replaced = &old
	} else {
		r.order = append(r.order, p.ConnectionID)
	}
	r.entries[p.ConnectionID] = Entry{Participant: p, Subscriber: sub}
	log.Info().Str("module", "app.registry").Str("connection", p.ConnectionID).Str("name", p.DisplayName).Bool("replaced", replaced != nil).Msg("participant joined")
	return replaced
}

// Left removes connectionID if present.
func (r *ParticipantRegistry) Left(connectionID string) (Entry, bool) {
	return r.LeftStream(connectionID, "")
}

// LeftStream removes connectionID only if its current stream matches
// streamID. An empty streamID matches any stream.
func (r *ParticipantRegistry) LeftStream(connectionID, streamID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connectionID]
	if !ok {
		return Entry{}, false
	}
	if streamID != "" && e.Participant.StreamID != "" && e.Participant.StreamID != streamID {
		log.Debug().Str("module", "app.registry").Str("connection", connectionID).Str("stream", streamID).Msg("stale leave ignored")
		return Entry{}, false
	}
	delete(r.entries, connectionID)
	for i, id := range r.order {
		if id == connectionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "app.registry").Str("connection", connectionID).Msg("participant left")
	return e, true
}

func (r *ParticipantRegistry) Get(connectionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connectionID]
	return e, ok
}

func (r *ParticipantRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns a copy in insertion order.
func (r *ParticipantRegistry) List() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].Participant)
	}
	return out
}

// Clear empties the registry and returns what it held, in order.
func (r *ParticipantRegistry) Clear() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	r.order = nil
	r.entries = make(map[string]Entry)
	return out
}
