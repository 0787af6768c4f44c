package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kycvault/internal/ratelimit/models"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "test:key:allow:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("requests up to limit allowed", func() {
		var result *models.RateLimitResult
		var err error
		for range testLimit {
			result, err = s.store.Allow(s.ctx, "test:key:allow:limit", testLimit, testWindow)
		}
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(0, result.Remaining)
	})

	s.Run("request over limit denied", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "test:key:allow:over", testLimit, testWindow)
			require.NoError(s.T(), err)
		}
		result, err := s.store.Allow(s.ctx, "test:key:allow:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(int(testWindow/time.Second), result.RetryAfter)
	})
}

func (s *InMemoryBucketStoreSuite) TestWindowSlides() {
	key := "test:key:slide"
	for range testLimit {
		_, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
	}

	s.now = s.now.Add(testWindow - time.Second)
	result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed, "still inside the window")

	s.now = s.now.Add(time.Second)
	result, err = s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed, "oldest requests left the window")
}

func (s *InMemoryBucketStoreSuite) TestAllowN() {
	result, err := s.store.AllowN(s.ctx, "cost", 4, 5, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(1, result.Remaining)

	result, err = s.store.AllowN(s.ctx, "cost", 2, 5, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed)

	count, err := s.store.GetCurrentCount(s.ctx, "cost")
	s.Require().NoError(err)
	s.Equal(4, count, "denied cost is not recorded")
}

func (s *InMemoryBucketStoreSuite) TestReset() {
	_, err := s.store.Allow(s.ctx, "reset", 1, testWindow)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reset(s.ctx, "reset"))

	result, err := s.store.Allow(s.ctx, "reset", 1, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryBucketStoreSuite) TestConcurrentAccess() {
	store := New()
	var wg sync.WaitGroup
	allowed := make(chan bool, 100)
	for range 100 {
		wg.Go(func() {
			r, err := store.Allow(s.ctx, "concurrent", 50, testWindow)
			s.NoError(err)
			allowed <- r.Allowed
		})
	}
	wg.Wait()
	close(allowed)

	n := 0
	for a := range allowed {
		if a {
			n++
		}
	}
	s.Equal(50, n)
}
