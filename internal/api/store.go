package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StreamRecord tracks one live websocket decode session. The websocket loop
// owns the decoding state; the record carries only the metadata other
// goroutines may read, refreshed by the loop after each step.
type StreamRecord struct {
	ID        string
	CreatedAt time.Time
	cancel    context.CancelFunc

	mu     sync.Mutex
	frames int
	done   bool
}

func (r *StreamRecord) update(frames int, done bool) {
	r.mu.Lock()
	r.frames = frames
	r.done = done
	r.mu.Unlock()
}

// Cancel aborts the session's context; the websocket loop notices and
// closes the connection.
func (r *StreamRecord) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *StreamRecord) info() SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SessionInfo{
		ID:        r.ID,
		Object:    "decode.session",
		CreatedAt: r.CreatedAt.Unix(),
		Frames:    r.frames,
		Done:      r.done,
	}
}

// SessionStore indexes live streaming sessions by id.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*StreamRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*StreamRecord),
	}
}

// Add registers a new session and returns its record. cancel runs when the
// session is deleted through the API.
func (s *SessionStore) Add(now time.Time, cancel context.CancelFunc) *StreamRecord {
	rec := &StreamRecord{
		ID:        "sess_" + uuid.NewString(),
		CreatedAt: now,
		cancel:    cancel,
	}
	s.mu.Lock()
	s.sessions[rec.ID] = rec
	s.mu.Unlock()
	return rec
}

func (s *SessionStore) Get(id string) (*StreamRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

func (s *SessionStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// List snapshots every live session, oldest first.
func (s *SessionStore) List() []SessionInfo {
	s.mu.Lock()
	recs := make([]*StreamRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	out := make([]SessionInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
