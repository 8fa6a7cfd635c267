//go:build integration

package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"storyteller-server/internal/model"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type PublisherSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	conn      *amqp.Connection
	ch        *amqp.Channel
}

func (s *PublisherSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error
	s.container, err = rabbitmq.Run(s.ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start rabbitmq container")

	url, err := s.container.AmqpURL(s.ctx)
	require.NoError(s.T(), err)

	s.conn, err = Dial(s.ctx, url, 3, time.Second, zap.NewNop())
	require.NoError(s.T(), err)
	s.ch, err = s.conn.Channel()
	require.NoError(s.T(), err)
}

func (s *PublisherSuite) TearDownSuite() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PublisherSuite) TestPublishJobEvent() {
	const queue = "story_generation_events_test"
	publisher, err := NewRabbitMQPublisher(s.ch, queue, zap.NewNop())
	s.Require().NoError(err)

	event := model.JobEvent{
		Type:    model.JobEventCompleted,
		JobID:   "job-1",
		StoryID: "story-1",
		OwnerID: "owner-1",
		Status:  model.StatusCompleted,
	}
	s.Require().NoError(publisher.PublishJobEvent(s.ctx, event))

	deliveries, err := s.ch.Consume(queue, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case d := <-deliveries:
		s.Equal("application/json", d.ContentType)
		s.Equal(uint8(amqp.Persistent), d.DeliveryMode)
		s.Equal("job-1-job.completed", d.MessageId)
		s.Equal(string(model.JobEventCompleted), d.Type)

		var got model.JobEvent
		s.Require().NoError(json.Unmarshal(d.Body, &got))
		s.Equal("story-1", got.StoryID)
		s.Equal(model.StatusCompleted, got.Status)
		s.False(got.OccurredAt.IsZero())
	case <-time.After(10 * time.Second):
		s.FailNow("timed out waiting for job event")
	}
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}
