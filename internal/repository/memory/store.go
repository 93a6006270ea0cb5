// Package memory is an in-process credential and user store for tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"food-auth-service/internal/model"
)

// Store keeps challenges, sessions and users in maps behind one mutex.
// Values are copied in and out so callers never share state with the store.
type Store struct {
	mu           sync.Mutex
	challenges   map[string]model.VerificationChallenge
	sessions     map[string]model.Session
	userSessions map[string]map[string]struct{}
	users        map[string]model.User
	usersByPhone map[string]string
	throttle     map[string]time.Time
	nowF         func() time.Time
}

func NewStore() *Store {
	return &Store{
		challenges:   make(map[string]model.VerificationChallenge),
		sessions:     make(map[string]model.Session),
		userSessions: make(map[string]map[string]struct{}),
		users:        make(map[string]model.User),
		usersByPhone: make(map[string]string),
		throttle:     make(map[string]time.Time),
		nowF:         time.Now,
	}
}

// SetClock overrides the clock used by the throttle and pruning.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.nowF = now
	s.mu.Unlock()
}

func (s *Store) UpsertChallenge(ctx context.Context, challenge *model.VerificationChallenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.RequestID] = *challenge
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, requestID string) (*model.VerificationChallenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[requestID]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	return &c, nil
}

func (s *Store) DeleteChallenge(ctx context.Context, requestID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, requestID)
	return nil
}

func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return model.ErrRecordExists
	}
	s.sessions[session.ID] = *session
	ids, ok := s.userSessions[session.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.userSessions[session.UserID] = ids
	}
	ids[session.ID] = struct{}{}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	return &session, nil
}

func (s *Store) CompareAndSwapSecret(ctx context.Context, sessionID, expectedHash string, update model.SessionUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return model.ErrRecordNotFound
	}
	if session.SecretHash != expectedHash {
		return model.ErrConflict
	}
	update.Apply(&session)
	s.sessions[sessionID] = session
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteSessionLocked(sessionID)
	return nil
}

func (s *Store) deleteSessionLocked(sessionID string) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.sessions, sessionID)
	if ids, ok := s.userSessions[session.UserID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(s.userSessions, session.UserID)
		}
	}
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.userSessions[userID]
	for id := range ids {
		delete(s.sessions, id)
	}
	delete(s.userSessions, userID)
	return len(ids), nil
}

// PruneExpired drops challenges and sessions that expired before cutoff.
func (s *Store) PruneExpired(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.challenges {
		if c.ExpiresAt.Before(cutoff) {
			delete(s.challenges, id)
			removed++
		}
	}
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(cutoff) {
			s.deleteSessionLocked(id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) GetUserByPhoneHash(ctx context.Context, phoneHash string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByPhone[phoneHash]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByPhone[user.PhoneHash]; ok {
		return model.ErrRecordExists
	}
	s.users[user.ID] = *user
	s.usersByPhone[user.PhoneHash] = user.ID
	return nil
}

func (s *Store) UpdateUserName(ctx context.Context, userID, name string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrRecordNotFound
	}
	u.Name = name
	u.UpdatedAt = updatedAt
	s.users[userID] = u
	return nil
}

// Allow implements a fixed reservation window per key.
func (s *Store) Allow(ctx context.Context, key string, window time.Duration) (bool, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	if until, ok := s.throttle[key]; ok && now.Before(until) {
		return false, until.Sub(now), nil
	}
	s.throttle[key] = now.Add(window)
	return true, 0, nil
}
