// Package session owns conversational state: the live in-memory registry with
// its per-session turn lock, and the SQLite journal that keeps a durable copy
// of completed exchanges.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icheftech/fredrick-ai/internal/config"
	"github.com/icheftech/fredrick-ai/internal/fault"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a session's history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a point-in-time snapshot of one session's public state.
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Busy       bool      `json:"busy"`
	TurnCount  int       `json:"turn_count"`
}

type sessionState struct {
	id         string
	createdAt  time.Time
	lastActive time.Time
	busy       bool
	history    []Turn
}

// Store holds every live session. All mutation goes through the store mutex;
// per-session turn exclusivity is the busy flag, taken and released around a
// whole turn, never held across store calls.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	cfg      config.SessionConfig
	log      *slog.Logger
	clock    func() time.Time
}

func NewStore(cfg config.SessionConfig, log *slog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*sessionState),
		cfg:      cfg,
		log:      log,
		clock:    time.Now,
	}
}

// Create registers a fresh session with a server-issued id.
func (s *Store) Create() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	st := &sessionState{
		id:         uuid.NewString(),
		createdAt:  now,
		lastActive: now,
	}
	s.sessions[st.id] = st
	s.log.Debug("session created", slog.String("session_id", st.id))
	return snapshot(st)
}

// Ensure registers the session under a caller-chosen id if it does not
// exist, and returns its snapshot. The voice plane uses this for device
// session ids; HTTP callers never create sessions implicitly.
func (s *Store) Ensure(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[id]
	if !ok {
		now := s.clock()
		st = &sessionState{
			id:         id,
			createdAt:  now,
			lastActive: now,
		}
		s.sessions[id] = st
		s.log.Debug("session created", slog.String("session_id", id))
	}
	return snapshot(st)
}

// Get returns a snapshot of the session. Unknown ids are never created
// implicitly.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[id]
	if !ok {
		return Session{}, fault.Errorf(fault.KindNotFound, "session %s not found", id)
	}
	return snapshot(st), nil
}

// TryAcquire attempts to take the session's turn lock. The test and set are
// atomic under the store mutex: exactly one concurrent caller wins. A false
// return with nil error means the session is mid-turn.
func (s *Store) TryAcquire(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[id]
	if !ok {
		return false, fault.Errorf(fault.KindNotFound, "session %s not found", id)
	}
	if st.busy {
		return false, nil
	}
	st.busy = true
	st.lastActive = s.clock()
	return true, nil
}

// Release drops the turn lock. It is safe to call on any outcome path,
// including after the session was closed underneath a failed turn.
func (s *Store) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[id]
	if !ok {
		return
	}
	st.busy = false
	st.lastActive = s.clock()
}

// AppendExchange appends a user/assistant pair in one step so history never
// holds a user turn without its reply. Only the lock holder may append.
func (s *Store) AppendExchange(id string, user, assistant Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[id]
	if !ok {
		return fault.Errorf(fault.KindNotFound, "session %s not found", id)
	}
	if !st.busy {
		return fault.Errorf(fault.KindInternal, "append to session %s without holding the turn lock", id)
	}

	now := s.clock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if assistant.CreatedAt.IsZero() {
		assistant.CreatedAt = now
	}
	user.Role = RoleUser
	assistant.Role = RoleAssistant

	st.history = append(st.history, user, assistant)
	if s.cfg.MaxHistoryTurns > 0 && len(st.history) > s.cfg.MaxHistoryTurns {
		// Drop the oldest exchange pair to keep the window bounded.
		st.history = st.history[len(st.history)-s.cfg.MaxHistoryTurns:]
	}
	st.lastActive = now
	return nil
}

// History returns a copy of the session's turns in order.
func (s *Store) History(id string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[id]
	if !ok {
		return nil, fault.Errorf(fault.KindNotFound, "session %s not found", id)
	}
	out := make([]Turn, len(st.history))
	copy(out, st.history)
	return out, nil
}

// Close destroys a session. A session mid-turn refuses to close; callers can
// cancel the turn first.
func (s *Store) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[id]
	if !ok {
		return fault.Errorf(fault.KindNotFound, "session %s not found", id)
	}
	if st.busy {
		return fault.Errorf(fault.KindSessionBusy, "session %s has a turn in flight", id)
	}
	delete(s.sessions, id)
	return nil
}

// EvictIdle removes sessions idle beyond maxIdle. Busy sessions are never
// evicted: a mid-turn session is bounded by turn deadlines and will be
// collectable on a later sweep.
func (s *Store) EvictIdle(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-maxIdle)
	evicted := 0
	for id, st := range s.sessions {
		if st.busy {
			continue
		}
		if st.lastActive.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartSweeper runs idle eviction on the configured interval until ctx ends.
func (s *Store) StartSweeper(ctx context.Context) {
	interval := time.Duration(s.cfg.SweepIntervalMS) * time.Millisecond
	maxIdle := time.Duration(s.cfg.IdleTimeoutMS) * time.Millisecond

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.EvictIdle(maxIdle); n > 0 {
					s.log.Info("evicted idle sessions", slog.Int("count", n))
				}
			}
		}
	}()
}

func snapshot(st *sessionState) Session {
	return Session{
		ID:         st.id,
		CreatedAt:  st.createdAt,
		LastActive: st.lastActive,
		Busy:       st.busy,
		TurnCount:  len(st.history),
	}
}
