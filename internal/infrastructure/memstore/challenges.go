package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/investmarket/auth-api/internal/domain"
)

type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*domain.Challenge
	order      []string // insertion order, newest last
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{challenges: make(map[string]*domain.Challenge)}
}

func (s *ChallengeStore) Put(_ context.Context, c *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[c.ChallengeID]; ok {
		return fmt.Errorf("challenge %s: %w", c.ChallengeID, domain.ErrConflict)
	}
	cp := *c
	s.challenges[c.ChallengeID] = &cp
	s.order = append(s.order, c.ChallengeID)
	return nil
}

func (s *ChallengeStore) Get(_ context.Context, challengeID string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challengeID]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *ChallengeStore) Latest(_ context.Context, subjectKey string, purpose domain.Purpose) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		c := s.challenges[s.order[i]]
		if c.SubjectKey == subjectKey && c.Purpose == purpose {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("challenge for %s/%s: %w", subjectKey, purpose, domain.ErrNotFound)
}

func (s *ChallengeStore) Supersede(_ context.Context, subjectKey string, purpose domain.Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.challenges {
		if c.SubjectKey == subjectKey && c.Purpose == purpose {
			c.Consumed = true
		}
	}
	return nil
}

func (s *ChallengeStore) InvalidateAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.challenges {
		if c.AccountID == accountID {
			c.Consumed = true
		}
	}
	return nil
}

func (s *ChallengeStore) IncrementAttempts(_ context.Context, challengeID string) (*domain.Challenge, error) {
	return s.update(challengeID, func(c *domain.Challenge) bool {
		if c.Consumed || c.Exhausted() {
			return false
		}
		c.AttemptCount++
		return true
	})
}

func (s *ChallengeStore) Consume(_ context.Context, challengeID string, now time.Time) (*domain.Challenge, error) {
	return s.update(challengeID, func(c *domain.Challenge) bool {
		if !c.IsValid(now) {
			return false
		}
		c.Consumed = true
		return true
	})
}

// update applies fn under the lock. When fn declines, the current state is
// returned with domain.ErrConflict.
func (s *ChallengeStore) update(challengeID string, fn func(*domain.Challenge) bool) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challengeID]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, domain.ErrNotFound)
	}
	applied := fn(c)
	cp := *c
	if !applied {
		return &cp, domain.ErrConflict
	}
	return &cp, nil
}
