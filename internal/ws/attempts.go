package ws

import (
	"sync"

	"github.com/DoyleJ11/quiz-competition-backend/internal/session"
)

// attempt is one participant's walk through a room's questions. It outlives
// a single connection so a reconnect resumes at the same question.
type attempt struct {
	mu       sync.Mutex
	play     *session.Playback
	recorded bool
}

type attemptKey struct{ roomID, userID string }

// attemptSet holds the unfinished attempts of this process. Entries are
// dropped once a result is recorded or the room closes.
type attemptSet struct {
	mu sync.Mutex
	m  map[attemptKey]*attempt
}

func newAttempts() *attemptSet {
	return &attemptSet{m: make(map[attemptKey]*attempt)}
}

func (s *attemptSet) get(roomID, userID string) *attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := attemptKey{roomID, userID}
	a, ok := s.m[k]
	if !ok {
		a = &attempt{}
		s.m[k] = a
	}
	return a
}

func (s *attemptSet) drop(roomID, userID string) {
	s.mu.Lock()
	delete(s.m, attemptKey{roomID, userID})
	s.mu.Unlock()
}
