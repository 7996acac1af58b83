package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/handlegate/internal/claims/common/clock"
	"github.com/haukened/handlegate/internal/claims/domain"
	"github.com/haukened/handlegate/internal/claims/repos/claimcache"
	"github.com/haukened/handlegate/internal/claims/repos/claimstore/bolt"
	"github.com/haukened/handlegate/internal/claims/repos/filter"
)

// Mock implementations for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Exists(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) Insert(ctx context.Context, c domain.Claim) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStore) Touch(ctx context.Context, token string, at time.Time) error {
	args := m.Called(ctx, token, at)
	return args.Error(0)
}

type MockFilter struct {
	mock.Mock
}

func (m *MockFilter) Insert(token string) error {
	args := m.Called(token)
	return args.Error(0)
}

func (m *MockFilter) MightContain(token string) bool {
	args := m.Called(token)
	return args.Bool(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) MarkTaken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockCache) IsTaken(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

type recordingMetrics struct {
	mu     sync.Mutex
	checks []string
	claims []string
}

func (r *recordingMetrics) ObserveCheck(tier, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, tier+"/"+outcome)
}

func (r *recordingMetrics) IncClaim(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims = append(r.claims, result)
}

func newMocked() (*Resolver, *MockFilter, *MockCache, *MockStore) {
	f, c, s := &MockFilter{}, &MockCache{}, &MockStore{}
	r := NewResolver(ResolverOptions{Filter: f, Cache: c, Store: s, FilterComplete: true})
	return r, f, c, s
}

func TestCheck_Cascade(t *testing.T) {
	storeErr := fmt.Errorf("%w: dial tcp: timeout", domain.ErrStoreUnavailable)
	tests := []struct {
		name        string
		mightHave   bool
		cacheHit    bool
		cacheErr    error
		exists      bool
		storeErr    error
		wantOutcome domain.Outcome
		wantTier    domain.Tier
		callsCache  bool
		callsStore  bool
	}{
		{name: "filter absent", wantOutcome: domain.OutcomeAvailable, wantTier: domain.TierFilter},
		{name: "cache hit", mightHave: true, cacheHit: true, callsCache: true,
			wantOutcome: domain.OutcomeTaken, wantTier: domain.TierCache},
		{name: "store taken", mightHave: true, exists: true, callsCache: true, callsStore: true,
			wantOutcome: domain.OutcomeTaken, wantTier: domain.TierStore},
		{name: "filter false positive", mightHave: true, callsCache: true, callsStore: true,
			wantOutcome: domain.OutcomeAvailable, wantTier: domain.TierStore},
		{name: "cache error is a miss", mightHave: true, cacheErr: errors.New("redis down"), exists: true,
			callsCache: true, callsStore: true, wantOutcome: domain.OutcomeTaken, wantTier: domain.TierStore},
		{name: "store error is uncertain", mightHave: true, storeErr: storeErr, callsCache: true, callsStore: true,
			wantOutcome: domain.OutcomeUncertain, wantTier: domain.TierStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, f, c, s := newMocked()
			f.On("MightContain", "alice").Return(tt.mightHave)
			if tt.callsCache {
				c.On("IsTaken", mock.Anything, "alice").Return(tt.cacheHit, tt.cacheErr)
			}
			if tt.callsStore {
				s.On("Exists", mock.Anything, "alice").Return(tt.exists, tt.storeErr)
			}

			v := r.Check(context.Background(), "  Alice ")
			assert.Equal(t, "alice", v.Token)
			assert.Equal(t, tt.wantOutcome, v.Outcome)
			assert.Equal(t, tt.wantTier, v.Tier)
			if tt.storeErr != nil {
				assert.ErrorIs(t, v.Err, domain.ErrStoreUnavailable)
			} else {
				assert.NoError(t, v.Err)
			}

			f.AssertExpectations(t)
			c.AssertExpectations(t)
			s.AssertExpectations(t)
			if !tt.callsCache {
				c.AssertNotCalled(t, "IsTaken", mock.Anything, mock.Anything)
			}
			if !tt.callsStore {
				s.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestCheck_InvalidIdentifier(t *testing.T) {
	r, f, _, _ := newMocked()
	v := r.Check(context.Background(), "   ")
	assert.Equal(t, domain.OutcomeUncertain, v.Outcome)
	assert.ErrorIs(t, v.Err, domain.ErrInvalidIdentifier)
	f.AssertNotCalled(t, "MightContain", mock.Anything)
	assert.False(t, r.IsAvailable(context.Background(), ""))
}

func TestIsAvailable_UncertainPolicy(t *testing.T) {
	for _, tt := range []struct {
		policy domain.UncertainPolicy
		want   bool
	}{
		{domain.TreatAsTaken, false},
		{domain.TreatAsAvailable, true},
	} {
		f, c, s := &MockFilter{}, &MockCache{}, &MockStore{}
		f.On("MightContain", "bob").Return(true)
		c.On("IsTaken", mock.Anything, "bob").Return(false, nil)
		s.On("Exists", mock.Anything, "bob").Return(false, domain.ErrStoreUnavailable)
		r := NewResolver(ResolverOptions{Filter: f, Cache: c, Store: s, Policy: tt.policy})
		assert.Equal(t, tt.want, r.IsAvailable(context.Background(), "bob"))
	}
}

func TestCheck_StoreTimeoutApplied(t *testing.T) {
	f, c, s := &MockFilter{}, &MockCache{}, &MockStore{}
	f.On("MightContain", "carol").Return(true)
	c.On("IsTaken", mock.Anything, "carol").Return(false, nil)
	s.On("Exists", mock.MatchedBy(func(ctx context.Context) bool {
		dl, ok := ctx.Deadline()
		return ok && time.Until(dl) <= 50*time.Millisecond
	}), "carol").Return(true, nil)

	r := NewResolver(ResolverOptions{Filter: f, Cache: c, Store: s, StoreTimeout: 50 * time.Millisecond})
	v := r.Check(context.Background(), "carol")
	assert.Equal(t, domain.OutcomeTaken, v.Outcome)
	s.AssertExpectations(t)
}

func TestClaim_Success(t *testing.T) {
	m := &recordingMetrics{}
	f, c, s := &MockFilter{}, &MockCache{}, &MockStore{}
	clk := clock.NewMockClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	r := NewResolver(ResolverOptions{Filter: f, Cache: c, Store: s, Clock: clk, Metrics: m})

	s.On("Insert", mock.Anything, mock.MatchedBy(func(cl domain.Claim) bool {
		return cl.Identifier == "alice" && cl.Display == "Alice" && cl.Owner == "u1"
	})).Return(nil)
	f.On("Insert", "alice").Return(nil)
	c.On("MarkTaken", mock.Anything, "alice").Return(nil)

	got, err := r.Claim(context.Background(), domain.ClaimRequest{Identifier: " Alice", Owner: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Identifier)
	assert.Equal(t, clk.Now(), got.ClaimedAt)
	f.AssertExpectations(t)
	c.AssertExpectations(t)
	assert.Equal(t, []string{ClaimResultCreated}, m.claims)
}

func TestClaim_ConflictLeavesTiersUntouched(t *testing.T) {
	r, f, c, s := newMocked()
	s.On("Insert", mock.Anything, mock.Anything).Return(domain.ErrConflict)

	_, err := r.Claim(context.Background(), domain.ClaimRequest{Identifier: "alice"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NotErrorIs(t, err, domain.ErrInternal)
	f.AssertNotCalled(t, "Insert", mock.Anything)
	c.AssertNotCalled(t, "MarkTaken", mock.Anything, mock.Anything)
}

func TestClaim_StoreFailureIsInternal(t *testing.T) {
	r, f, _, s := newMocked()
	s.On("Insert", mock.Anything, mock.Anything).Return(fmt.Errorf("%w: broken pipe", domain.ErrStoreUnavailable))

	_, err := r.Claim(context.Background(), domain.ClaimRequest{Identifier: "alice"})
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.NotErrorIs(t, err, domain.ErrConflict)
	f.AssertNotCalled(t, "Insert", mock.Anything)
}

func TestClaim_InvalidIdentifier(t *testing.T) {
	r, _, _, s := newMocked()
	_, err := r.Claim(context.Background(), domain.ClaimRequest{Identifier: "\t"})
	assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
	s.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestClaim_TierFailuresAreNotPropagated(t *testing.T) {
	r, f, c, s := newMocked()
	s.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.On("Insert", "alice").Return(domain.ErrCapacityExhausted)
	c.On("MarkTaken", mock.Anything, "alice").Return(errors.New("redis down"))

	_, err := r.Claim(context.Background(), domain.ClaimRequest{Identifier: "alice"})
	assert.NoError(t, err)
	f.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestClaim_NoPreCheck(t *testing.T) {
	r, f, c, s := newMocked()
	s.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.On("Insert", "dave").Return(nil)
	c.On("MarkTaken", mock.Anything, "dave").Return(nil)

	_, err := r.Claim(context.Background(), domain.ClaimRequest{Identifier: "dave"})
	require.NoError(t, err)
	s.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
	f.AssertNotCalled(t, "MightContain", mock.Anything)
}

// --- tests over real tiers ---

func newRealResolver(t *testing.T, ttl time.Duration) (*Resolver, *clock.MockClock) {
	t.Helper()
	r, clk, _ := newRealResolverWithFilter(t, ttl, filter.Options{Capacity: 1000})
	return r, clk
}

func newRealResolverWithFilter(t *testing.T, ttl time.Duration, fopts filter.Options) (*Resolver, *clock.MockClock, *filter.Cuckoo) {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "claims.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewMockClock(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	cache, err := claimcache.NewMemory(100, ttl, clk)
	require.NoError(t, err)

	f := filter.NewCuckoo(fopts)
	r := NewResolver(ResolverOptions{
		Filter:         f,
		Cache:          cache,
		Store:          store,
		Clock:          clk,
		FilterComplete: true,
	})
	return r, clk, f
}

func TestResolver_ClaimedStaysTakenAfterCacheExpiry(t *testing.T) {
	ctx := context.Background()
	r, clk := newRealResolver(t, time.Hour)

	assert.True(t, r.IsAvailable(ctx, "erin"))
	_, err := r.Claim(ctx, domain.ClaimRequest{Identifier: "erin"})
	require.NoError(t, err)

	v := r.Check(ctx, "erin")
	assert.Equal(t, domain.OutcomeTaken, v.Outcome)
	assert.Equal(t, domain.TierCache, v.Tier)

	clk.Advance(2 * time.Hour)
	v = r.Check(ctx, "erin")
	assert.Equal(t, domain.OutcomeTaken, v.Outcome)
	assert.Equal(t, domain.TierStore, v.Tier)
}

func TestResolver_CaseVariantsAreTaken(t *testing.T) {
	ctx := context.Background()
	r, _ := newRealResolver(t, time.Hour)

	_, err := r.Claim(ctx, domain.ClaimRequest{Identifier: "Frank"})
	require.NoError(t, err)
	for _, variant := range []string{"frank", "FRANK", " fRaNk ", "Frank"} {
		assert.False(t, r.IsAvailable(ctx, variant), variant)
		_, err := r.Claim(ctx, domain.ClaimRequest{Identifier: variant})
		assert.ErrorIs(t, err, domain.ErrConflict, variant)
	}
}

func TestResolver_ConcurrentClaimsSingleWinner(t *testing.T) {
	ctx := context.Background()
	r, _ := newRealResolver(t, time.Hour)

	const racers = 10
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Claim(ctx, domain.ClaimRequest{Identifier: "grace", Owner: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflicts)
	assert.False(t, r.IsAvailable(ctx, "grace"))
}

func TestResolver_ClaimsBeyondFilterCapacityStayTaken(t *testing.T) {
	ctx := context.Background()
	r, clk, f := newRealResolverWithFilter(t, time.Hour, filter.Options{Capacity: 8, MaxSegments: 1})

	ids := make([]string, 200)
	for i := range ids {
		ids[i] = fmt.Sprintf("member-%03d", i)
		_, err := r.Claim(ctx, domain.ClaimRequest{Identifier: ids[i]})
		require.NoError(t, err)
	}
	assert.True(t, f.Stats().Saturated)

	// with the cache expired only the filter and the store remain
	clk.Advance(2 * time.Hour)
	for _, id := range ids {
		assert.False(t, r.IsAvailable(ctx, id), id)
	}
	v := r.Check(ctx, "never-claimed")
	assert.Equal(t, domain.OutcomeAvailable, v.Outcome)
	assert.Equal(t, domain.TierStore, v.Tier)
}

func TestResolver_FailedFilterInsertFallsThroughToStore(t *testing.T) {
	ctx := context.Background()
	f := filter.NewCuckoo(filter.Options{Capacity: 8, MaxSegments: 1})
	require.ErrorIs(t, f.InsertBatch(make100("filler")), domain.ErrCapacityExhausted)

	store := &MockStore{}
	cache := &MockCache{}
	r := NewResolver(ResolverOptions{Filter: f, Cache: cache, Store: store, FilterComplete: true})

	store.On("Insert", mock.Anything, mock.Anything).Return(nil)
	cache.On("MarkTaken", mock.Anything, "heidi").Return(errors.New("redis down"))
	_, err := r.Claim(ctx, domain.ClaimRequest{Identifier: "heidi"})
	require.NoError(t, err)

	cache.On("IsTaken", mock.Anything, "heidi").Return(false, nil)
	store.On("Exists", mock.Anything, "heidi").Return(true, nil)
	v := r.Check(ctx, "heidi")
	assert.Equal(t, domain.OutcomeTaken, v.Outcome)
	assert.Equal(t, domain.TierStore, v.Tier)
	assert.False(t, r.IsAvailable(ctx, "heidi"))
}

func make100(prefix string) []string {
	out := make([]string, 100)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return out
}

func TestTouch(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	f, c, s := &MockFilter{}, &MockCache{}, &MockStore{}
	r := NewResolver(ResolverOptions{Filter: f, Cache: c, Store: s, Clock: clk})

	s.On("Touch", mock.Anything, "ivan", clk.Now()).Return(nil)
	f.On("Insert", "ivan").Return(nil)
	c.On("MarkTaken", mock.Anything, "ivan").Return(nil)
	require.NoError(t, r.Touch(context.Background(), " IVAN "))
	s.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestTouch_Errors(t *testing.T) {
	r, _, c, s := newMocked()
	assert.ErrorIs(t, r.Touch(context.Background(), "  "), domain.ErrInvalidIdentifier)

	s.On("Touch", mock.Anything, "judy", mock.Anything).Return(domain.ErrNotFound).Once()
	err := r.Touch(context.Background(), "judy")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrInternal)

	s.On("Touch", mock.Anything, "judy", mock.Anything).Return(domain.ErrStoreUnavailable).Once()
	assert.ErrorIs(t, r.Touch(context.Background(), "judy"), domain.ErrInternal)
	c.AssertNotCalled(t, "MarkTaken", mock.Anything, mock.Anything)
}

func TestResolver_TouchUnknownOverRealStore(t *testing.T) {
	r, _ := newRealResolver(t, time.Hour)
	assert.ErrorIs(t, r.Touch(context.Background(), "kim"), domain.ErrNotFound)
	_, err := r.Claim(context.Background(), domain.ClaimRequest{Identifier: "kim"})
	require.NoError(t, err)
	assert.NoError(t, r.Touch(context.Background(), "Kim"))
}

func TestCheck_IncompleteFilterIsBypassed(t *testing.T) {
	f, c, s := &MockFilter{}, &MockCache{}, &MockStore{}
	r := NewResolver(ResolverOptions{Filter: f, Cache: c, Store: s})
	assert.False(t, r.FilterComplete())

	c.On("IsTaken", mock.Anything, "lena").Return(false, nil)
	s.On("Exists", mock.Anything, "lena").Return(true, nil)
	v := r.Check(context.Background(), "lena")
	assert.Equal(t, domain.OutcomeTaken, v.Outcome)
	assert.Equal(t, domain.TierStore, v.Tier)
	f.AssertNotCalled(t, "MightContain", mock.Anything)

	r.MarkFilterComplete()
	assert.True(t, r.FilterComplete())
	f.On("MightContain", "mona").Return(false)
	v = r.Check(context.Background(), "mona")
	assert.Equal(t, domain.OutcomeAvailable, v.Outcome)
	assert.Equal(t, domain.TierFilter, v.Tier)
}

func TestResolver_StoredClaimsBeforeWarmUpStayTaken(t *testing.T) {
	ctx := context.Background()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "claims.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	c, err := domain.NewClaim(domain.ClaimRequest{Identifier: "nora"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, c))

	clk := clock.NewMockClock(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	cache, err := claimcache.NewMemory(100, time.Hour, clk)
	require.NoError(t, err)
	r := NewResolver(ResolverOptions{
		Filter: filter.NewCuckoo(filter.Options{Capacity: 100}),
		Cache:  cache,
		Store:  store,
		Clock:  clk,
	})

	// the empty filter has not seen "nora" yet
	assert.False(t, r.IsAvailable(ctx, "Nora"))
	assert.True(t, r.IsAvailable(ctx, "otto"))
}
