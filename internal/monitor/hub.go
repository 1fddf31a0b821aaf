// Package monitor fans quiz events out to live observer connections.
package monitor

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"

	"quiz-session-service/internal/domain"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("monitor hub closed")

// Subscriber is one live observer. Send must not block: it either queues the
// event or fails, and a failed subscriber is dropped by the hub.
type Subscriber interface {
	Send(event domain.Event) error
	Close()
}

// Hub keeps, per quiz id, the set of subscribers. Rooms are spread over
// shards so that the map lock is short and each room has its own mutex;
// unrelated quizzes never wait on each other's broadcasts.
type Hub struct {
	shards []*shard

	mu     sync.RWMutex
	closed bool
}

type shard struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
	dead bool
}

const defaultShards = 32

// NewHub creates a hub with the given shard count (0 picks a default).
func NewHub(shards int) *Hub {
	if shards <= 0 {
		shards = defaultShards
	}
	h := &Hub{shards: make([]*shard, shards)}
	for i := range h.shards {
		h.shards[i] = &shard{rooms: make(map[string]*room)}
	}
	return h
}

func (h *Hub) shardFor(quizID string) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(quizID))
	return h.shards[f.Sum32()%uint32(len(h.shards))]
}

// Subscribe adds sub to the quiz's set. The returned cancel removes it and
// is safe to call more than once.
func (h *Hub) Subscribe(quizID string, sub Subscriber) (func(), error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	sh := h.shardFor(quizID)
	sh.mu.Lock()
	r, ok := sh.rooms[quizID]
	if !ok {
		r = &room{subs: make(map[Subscriber]struct{})}
		sh.rooms[quizID] = r
	}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	count := len(r.subs)
	r.mu.Unlock()
	sh.mu.Unlock()

	log.Printf("monitor connected to quiz %s, %d watching", quizID, count)
	return func() { h.unsubscribe(quizID, sub) }, nil
}

func (h *Hub) unsubscribe(quizID string, sub Subscriber) {
	sh := h.shardFor(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.rooms[quizID]
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; !ok {
		return
	}
	delete(r.subs, sub)
	if len(r.subs) == 0 {
		r.dead = true
		delete(sh.rooms, quizID)
	}
	log.Printf("monitor disconnected from quiz %s", quizID)
}

// Broadcast delivers event to every subscriber of quizID. Subscribers whose
// Send fails are removed and closed once the sweep is done.
func (h *Hub) Broadcast(quizID string, event domain.Event) {
	sh := h.shardFor(quizID)
	sh.mu.Lock()
	r, ok := sh.rooms[quizID]
	sh.mu.Unlock()
	if !ok {
		return
	}

	var failed []Subscriber
	r.mu.Lock()
	if r.dead {
		r.mu.Unlock()
		return
	}
	for sub := range r.subs {
		if err := sub.Send(event); err != nil {
			failed = append(failed, sub)
		}
	}
	for _, sub := range failed {
		delete(r.subs, sub)
	}
	empty := len(r.subs) == 0
	r.mu.Unlock()

	for _, sub := range failed {
		sub.Close()
	}
	if len(failed) > 0 {
		log.Printf("broadcast %s to quiz %s dropped %d dead monitors", event.Event, quizID, len(failed))
	}
	if empty {
		h.prune(quizID, r)
	}
}

func (h *Hub) prune(quizID string, r *room) {
	sh := h.shardFor(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) == 0 && sh.rooms[quizID] == r {
		r.dead = true
		delete(sh.rooms, quizID)
	}
}

// Publish implements app.Broadcaster for a single-instance deployment.
func (h *Hub) Publish(_ context.Context, quizID string, event domain.Event) {
	h.Broadcast(quizID, event)
}

// Count reports how many subscribers watch quizID.
func (h *Hub) Count(quizID string) int {
	sh := h.shardFor(quizID)
	sh.mu.Lock()
	r, ok := sh.rooms[quizID]
	sh.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Watching reports whether any room exists for quizID.
func (h *Hub) Watching(quizID string) bool {
	sh := h.shardFor(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.rooms[quizID]
	return ok
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	var all []Subscriber
	for _, sh := range h.shards {
		sh.mu.Lock()
		for quizID, r := range sh.rooms {
			r.mu.Lock()
			for sub := range r.subs {
				all = append(all, sub)
			}
			r.subs = make(map[Subscriber]struct{})
			r.dead = true
			r.mu.Unlock()
			delete(sh.rooms, quizID)
		}
		sh.mu.Unlock()
	}
	for _, sub := range all {
		sub.Close()
	}
}
