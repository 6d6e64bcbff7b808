package otp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/investmarket/auth-api/internal/domain"
	"github.com/investmarket/auth-api/internal/infrastructure/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var alice = domain.Subject{AccountID: "acc-1", Email: "alice@example.com"}

func newLedger() (*Ledger, *fakeClock, *memstore.ChallengeStore) {
	clock := &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	store := memstore.NewChallengeStore()
	return NewLedger(store, WithClock(clock.Now)), clock, store
}

func wrong(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestIssue_RejectsEmptySubject(t *testing.T) {
	l, _, _ := newLedger()
	_, err := l.Issue(context.Background(), domain.Subject{}, domain.PurposeEmailVerification, time.Minute, 3)
	assert.ErrorIs(t, err, domain.ErrSubjectRequired)

	_, err = l.Verify(context.Background(), domain.Subject{}, domain.PurposeEmailVerification, "123456")
	assert.ErrorIs(t, err, domain.ErrSubjectRequired)
}

func TestIssue_Defaults(t *testing.T) {
	l, clock, _ := newLedger()
	c, err := l.Issue(context.Background(), alice, domain.PurposeEmailVerification, 10*time.Minute, 0)
	require.NoError(t, err)

	assert.Len(t, c.Code, 6)
	assert.Equal(t, domain.DefaultMaxAttempts, c.MaxAttempts)
	assert.Equal(t, clock.Now().Add(10*time.Minute), c.ExpiresAt)
	assert.Equal(t, "email:alice@example.com", c.SubjectKey)
	assert.Equal(t, "acc-1", c.AccountID)
	assert.False(t, c.Consumed)

	_, err = l.Issue(context.Background(), alice, domain.Purpose("bogus"), time.Minute, 3)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestVerify_Success_ThenReplayFails(t *testing.T) {
	l, _, _ := newLedger()
	ctx := context.Background()
	c, err := l.Issue(ctx, alice, domain.PurposeLoginVerification, 5*time.Minute, 3)
	require.NoError(t, err)

	res, err := l.Verify(ctx, alice, domain.PurposeLoginVerification, c.Code)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.NoError(t, res.Err())
	assert.True(t, res.Challenge.Consumed)

	res, err = l.Verify(ctx, alice, domain.PurposeLoginVerification, c.Code)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonInvalidCode, res.Reason)
	assert.ErrorIs(t, res.Err(), domain.ErrInvalidCode)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	const ttl = 10 * time.Minute
	for _, tc := range []struct {
		name   string
		offset time.Duration
		valid  bool
	}{
		{"just before expiry", ttl - time.Millisecond, true},
		{"at expiry", ttl, false},
		{"just after expiry", ttl + time.Millisecond, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, clock, _ := newLedger()
			ctx := context.Background()
			start := clock.Now()
			c, err := l.Issue(ctx, alice, domain.PurposeEmailVerification, ttl, 3)
			require.NoError(t, err)

			clock.Set(start.Add(tc.offset))
			res, err := l.Verify(ctx, alice, domain.PurposeEmailVerification, c.Code)
			require.NoError(t, err)
			assert.Equal(t, tc.valid, res.Valid)
			if !tc.valid {
				assert.Equal(t, ReasonExpired, res.Reason)
			}
		})
	}
}

func TestVerify_ExpiredOutranksAttemptCap(t *testing.T) {
	l, clock, _ := newLedger()
	ctx := context.Background()
	c, err := l.Issue(ctx, alice, domain.PurposeEmailVerification, time.Minute, 2)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := l.Verify(ctx, alice, domain.PurposeEmailVerification, wrong(c.Code))
		require.NoError(t, err)
	}
	clock.Set(clock.Now().Add(2 * time.Minute))

	res, err := l.Verify(ctx, alice, domain.PurposeEmailVerification, c.Code)
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, res.Reason)
	assert.ErrorIs(t, res.Err(), domain.ErrCodeExpired)
}

func TestVerify_AttemptCap(t *testing.T) {
	l, _, _ := newLedger()
	ctx := context.Background()
	c, err := l.Issue(ctx, alice, domain.PurposePasswordReset, 10*time.Minute, 3)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		res, err := l.Verify(ctx, alice, domain.PurposePasswordReset, wrong(c.Code))
		require.NoError(t, err)
		assert.Equal(t, ReasonInvalidCode, res.Reason)
		assert.Equal(t, i, res.Challenge.AttemptCount)
	}

	res, err := l.Verify(ctx, alice, domain.PurposePasswordReset, c.Code)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonMaxAttempts, res.Reason)
	assert.ErrorIs(t, res.Err(), domain.ErrMaxAttempts)
}

func TestVerify_WrongPurposeOrSubject(t *testing.T) {
	l, _, _ := newLedger()
	ctx := context.Background()
	c, err := l.Issue(ctx, alice, domain.PurposeEmailVerification, time.Minute, 3)
	require.NoError(t, err)

	res, err := l.Verify(ctx, alice, domain.PurposeLoginVerification, c.Code)
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidCode, res.Reason)
	assert.Nil(t, res.Challenge)

	bob := domain.Subject{Email: "bob@example.com"}
	res, err = l.Verify(ctx, bob, domain.PurposeEmailVerification, c.Code)
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidCode, res.Reason)
}

func TestIssue_SupersedesPriorChallenge(t *testing.T) {
	l, _, store := newLedger()
	ctx := context.Background()
	first, err := l.Issue(ctx, alice, domain.PurposeEmailVerification, time.Minute, 3)
	require.NoError(t, err)
	second, err := l.Issue(ctx, alice, domain.PurposeEmailVerification, time.Minute, 3)
	require.NoError(t, err)

	old, err := store.Get(ctx, first.ChallengeID)
	require.NoError(t, err)
	assert.True(t, old.Consumed)

	if first.Code != second.Code {
		res, err := l.Verify(ctx, alice, domain.PurposeEmailVerification, first.Code)
		require.NoError(t, err)
		assert.False(t, res.Valid)
	}
	res, err := l.Verify(ctx, alice, domain.PurposeEmailVerification, second.Code)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestIncrementAttempt_ConcurrentWrongCodesAllCounted(t *testing.T) {
	l, _, store := newLedger()
	ctx := context.Background()
	c, err := l.Issue(ctx, alice, domain.PurposeLoginVerification, time.Minute, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Verify(ctx, alice, domain.PurposeLoginVerification, wrong(c.Code))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cur, err := store.Get(ctx, c.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, 40, cur.AttemptCount)
}

func TestVerify_ConcurrentCorrectCode_SingleSuccess(t *testing.T) {
	l, _, _ := newLedger()
	ctx := context.Background()
	c, err := l.Issue(ctx, alice, domain.PurposeLoginVerification, time.Minute, 3)
	require.NoError(t, err)

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Verify(ctx, alice, domain.PurposeLoginVerification, c.Code)
			if assert.NoError(t, err) && res.Valid {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok)
}

func TestInvalidateAccount(t *testing.T) {
	l, _, _ := newLedger()
	ctx := context.Background()
	c, err := l.Issue(ctx, alice, domain.PurposePasswordReset, time.Minute, 3)
	require.NoError(t, err)
	require.NoError(t, l.InvalidateAccount(ctx, "acc-1"))

	res, err := l.Verify(ctx, alice, domain.PurposePasswordReset, c.Code)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) Put(ctx context.Context, c *domain.Challenge) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockStore) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*domain.Challenge)
	return c, args.Error(1)
}

func (m *mockStore) Latest(ctx context.Context, key string, p domain.Purpose) (*domain.Challenge, error) {
	args := m.Called(ctx, key, p)
	c, _ := args.Get(0).(*domain.Challenge)
	return c, args.Error(1)
}

func (m *mockStore) Supersede(ctx context.Context, key string, p domain.Purpose) error {
	return m.Called(ctx, key, p).Error(0)
}

func (m *mockStore) IncrementAttempts(ctx context.Context, id string) (*domain.Challenge, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*domain.Challenge)
	return c, args.Error(1)
}

func (m *mockStore) Consume(ctx context.Context, id string, now time.Time) (*domain.Challenge, error) {
	args := m.Called(ctx, id, now)
	c, _ := args.Get(0).(*domain.Challenge)
	return c, args.Error(1)
}

func (m *mockStore) InvalidateAccount(ctx context.Context, accountID string) error {
	return m.Called(ctx, accountID).Error(0)
}

func TestVerify_LostConsumeRaceIsClassified(t *testing.T) {
	store := &mockStore{}
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	l := NewLedger(store, WithClock(func() time.Time { return now }))
	c := &domain.Challenge{ChallengeID: "c1", Code: "424242", ExpiresAt: now.Add(time.Minute), MaxAttempts: 3}
	raced := *c
	raced.Consumed = true

	store.On("Latest", mock.Anything, "email:alice@example.com", domain.PurposeLoginVerification).Return(c, nil)
	store.On("Consume", mock.Anything, "c1", now).Return(&raced, domain.ErrConflict)

	res, err := l.Verify(context.Background(), alice, domain.PurposeLoginVerification, "424242")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonInvalidCode, res.Reason)
}

func TestVerify_StoreFailureIsError(t *testing.T) {
	store := &mockStore{}
	l := NewLedger(store)
	boom := errors.New("connection reset")
	store.On("Latest", mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)

	_, err := l.Verify(context.Background(), alice, domain.PurposeLoginVerification, "123456")
	assert.ErrorIs(t, err, boom)
}
