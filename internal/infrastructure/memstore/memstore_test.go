package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/investmarket/auth-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestAccountStore_Uniqueness(t *testing.T) {
	s := NewAccountStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &domain.Account{AccountID: "1", Email: "a@x.com", Username: "alice", Telephone: strPtr("+15550000001")}))

	assert.ErrorIs(t, s.Create(ctx, &domain.Account{AccountID: "2", Email: "A@X.COM", Username: "bob"}), domain.ErrEmailTaken)
	assert.ErrorIs(t, s.Create(ctx, &domain.Account{AccountID: "2", Email: "b@x.com", Username: "ALICE"}), domain.ErrUsernameTaken)
	assert.ErrorIs(t, s.Create(ctx, &domain.Account{AccountID: "2", Email: "b@x.com", Username: "bob", Telephone: strPtr("+15550000001")}), domain.ErrPhoneTaken)
}

func TestAccountStore_ConcurrentCreate_ExactlyOneWins(t *testing.T) {
	s := NewAccountStore()
	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Create(context.Background(), &domain.Account{AccountID: fmt.Sprint(i), Email: "same@x.com", Username: fmt.Sprintf("user%d", i)})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if assert.ErrorIs(t, err, domain.ErrEmailTaken) {
				atomic.AddInt32(&conflicts, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
	assert.EqualValues(t, 19, conflicts)
}

func TestAccountStore_UpdateFields_MovesHandles(t *testing.T) {
	s := NewAccountStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &domain.Account{AccountID: "1", Email: "a@x.com", Username: "alice"}))
	require.NoError(t, s.Create(ctx, &domain.Account{AccountID: "2", Email: "b@x.com", Username: "bob"}))

	assert.ErrorIs(t, s.UpdateFields(ctx, "1", map[string]interface{}{domain.FieldUsername: "Bob"}), domain.ErrUsernameTaken)

	require.NoError(t, s.UpdateFields(ctx, "1", map[string]interface{}{domain.FieldUsername: "carol", domain.FieldRole: domain.RoleInvestor}))
	a, err := s.FindByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleInvestor, a.Role)

	_, err = s.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, s.UpdateFields(ctx, "missing", map[string]interface{}{domain.FieldRole: domain.RoleUser}), domain.ErrNotFound)
}

func TestAccountStore_List_Pages(t *testing.T) {
	s := NewAccountStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(ctx, &domain.Account{AccountID: id, Email: id + "@x.com", Username: "u" + id}))
	}
	page, next, err := s.List(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotEmpty(t, next)

	page, next, err = s.List(ctx, 2, next)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].AccountID)
	assert.Empty(t, next)
}

func TestChallengeStore_ConditionalWrites(t *testing.T) {
	s := NewChallengeStore()
	ctx := context.Background()
	now := time.Now()
	c := &domain.Challenge{ChallengeID: "c1", SubjectKey: "email:a@x.com", Purpose: domain.PurposeEmailVerification, Code: "111111", IssuedAt: now, ExpiresAt: now.Add(time.Minute), MaxAttempts: 2}
	require.NoError(t, s.Put(ctx, c))

	for i := 1; i <= 2; i++ {
		cur, err := s.IncrementAttempts(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, i, cur.AttemptCount)
	}
	cur, err := s.IncrementAttempts(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 2, cur.AttemptCount)

	_, err = s.Consume(ctx, "c1", now)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestChallengeStore_LatestAndSupersede(t *testing.T) {
	s := NewChallengeStore()
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, s.Put(ctx, &domain.Challenge{ChallengeID: id, SubjectKey: "email:a@x.com", AccountID: "acc", Purpose: domain.PurposePasswordReset, ExpiresAt: now.Add(time.Minute), MaxAttempts: 3}))
	}
	latest, err := s.Latest(ctx, "email:a@x.com", domain.PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, "c2", latest.ChallengeID)

	require.NoError(t, s.Supersede(ctx, "email:a@x.com", domain.PurposePasswordReset))
	c1, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c1.Consumed)

	_, err = s.Latest(ctx, "email:a@x.com", domain.PurposeLoginVerification)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
