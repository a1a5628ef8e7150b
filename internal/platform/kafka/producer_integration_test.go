//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"tumi/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	broker *containers.RedpandaContainer
}

func TestProducerIntegrationSuite(t *testing.T) {
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T())
}

func (s *ProducerIntegrationSuite) TestPublishRoundTrip() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "tumi.payments.roundtrip"

	p, err := NewProducer(s.broker.Brokers, topic)
	s.Require().NoError(err)
	defer p.Close()

	s.Require().NoError(p.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(p.EnsureTopic(ctx, 1, 1), "existing topic is not an error")
	s.Require().NoError(p.Health(ctx))

	s.Require().NoError(p.Publish(ctx, "pi_123", []byte(`{"status":"succeeded"}`), map[string]string{
		"event_type": "payment.succeeded",
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().Len(records, 1)
	s.Equal("pi_123", string(records[0].Key))
	s.JSONEq(`{"status":"succeeded"}`, string(records[0].Value))
	s.Require().Len(records[0].Headers, 1)
	s.Equal("event_type", records[0].Headers[0].Key)
	s.Equal("payment.succeeded", string(records[0].Headers[0].Value))
}
