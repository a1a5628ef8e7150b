//go:build integration

package dedupe_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tumi/internal/webhook/dedupe"
	"tumi/pkg/testutil/containers"
)

type RedisSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	dedup *dedupe.Redis
}

func TestRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.dedup = dedupe.NewRedis(s.redis.Client, time.Minute)
}

func (s *RedisSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisSuite) TestClaimOnce() {
	ctx := context.Background()

	ok, err := s.dedup.Claim(ctx, "evt_1")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.dedup.Claim(ctx, "evt_1")
	s.Require().NoError(err)
	s.False(ok)

	ttl, err := s.redis.Client.TTL(ctx, "tumi:stripe:event:evt_1").Result()
	s.Require().NoError(err)
	s.Greater(ttl, 50*time.Second)
}

func (s *RedisSuite) TestReleaseAllowsRetry() {
	ctx := context.Background()

	_, err := s.dedup.Claim(ctx, "evt_2")
	s.Require().NoError(err)
	s.Require().NoError(s.dedup.Release(ctx, "evt_2"))

	ok, err := s.dedup.Claim(ctx, "evt_2")
	s.Require().NoError(err)
	s.True(ok)
}
