package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

// dlqMessage собирает сообщение в том виде, в каком его пишет outbox worker.
func dlqMessage(t *testing.T, offset int64, eventType string) *sarama.ConsumerMessage {
	t.Helper()

	letter, err := json.Marshal(outbox.DeadLetter{
		OutboxID:      "sale.completed:sale-1",
		AggregateType: domain.SaleAggregateType,
		AggregateID:   "sale-1",
		EventType:     eventType,
		Payload:       json.RawMessage(`{"submission_key":"sale-1"}`),
		PublishError:  "broker down",
		FailedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	value, err := json.Marshal(kafka.NewEnvelope(domain.OutboxMessage{
		ID:            "sale.completed:sale-1",
		AggregateType: domain.SaleAggregateType,
		AggregateID:   "sale-1",
		EventType:     eventType,
		Payload:       letter,
	}))
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Offset: offset, Value: value}
}

type fakeOffsets struct {
	partitions []int32
	oldest     int64
	newest     int64
}

func (f fakeOffsets) Partitions(string) ([]int32, error) { return f.partitions, nil }

func (f fakeOffsets) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return f.oldest, nil
	}
	return f.newest, nil
}

type fakeStream struct {
	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
}

func (s *fakeStream) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *fakeStream) Errors() <-chan *sarama.ConsumerError     { return s.errs }
func (s *fakeStream) Close() error                             { return nil }

type fakeReader struct {
	messages []*sarama.ConsumerMessage
}

func (r fakeReader) ConsumePartition(string, int32, int64) (partitionStream, error) {
	s := &fakeStream{
		messages: make(chan *sarama.ConsumerMessage, len(r.messages)),
		errs:     make(chan *sarama.ConsumerError),
	}
	for _, m := range r.messages {
		s.messages <- m
	}
	return s, nil
}

func newTestReplayer(cfg config, messages []*sarama.ConsumerMessage, producer sarama.SyncProducer) *replayer {
	return &replayer{
		cfg:      cfg,
		offsets:  fakeOffsets{partitions: []int32{0}, oldest: 0, newest: int64(len(messages))},
		reader:   fakeReader{messages: messages},
		producer: producer,
		logger:   log.WithField("test", "dlq"),
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-event-types=sale.queued, sale.completed", "-execute"}, env(map[string]string{brokersEnv: "b1:9092, ,b2:9092"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	assert.Equal(t, kafka.TopicSalesEvents, cfg.targetTopic)
	assert.True(t, cfg.execute)
	assert.True(t, cfg.wants("sale.queued"))
	assert.False(t, cfg.wants("pending.synced"))
}

func TestParseConfig_Errors(t *testing.T) {
	brokers := env(map[string]string{brokersEnv: "b1:9092"})
	cases := map[string][]string{
		"same topics": {"-source-topic=a", "-target-topic=a"},
		"zero limit":  {"-limit=0"},
		"bad idle":    {"-idle-timeout=0s"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(args, brokers)
			assert.Error(t, err)
		})
	}

	_, err := parseConfig(nil, env(nil))
	assert.Error(t, err, "brokers are required")
}

func TestRestoreEvent(t *testing.T) {
	out, err := restoreEvent(dlqMessage(t, 0, string(domain.SaleEventCompleted)))
	require.NoError(t, err)

	assert.Equal(t, "sale.completed:sale-1", out.ID)
	assert.Equal(t, "sale-1", out.AggregateID)
	assert.JSONEq(t, `{"submission_key":"sale-1"}`, string(out.Payload))

	_, err = restoreEvent(&sarama.ConsumerMessage{Value: []byte("not json")})
	assert.Error(t, err)

	foreign, err := json.Marshal(kafka.Envelope{AggregateType: "order", Payload: json.RawMessage(`{"payload":{}}`)})
	require.NoError(t, err)
	_, err = restoreEvent(&sarama.ConsumerMessage{Value: foreign})
	assert.Error(t, err)
}

func TestReplayer_DryRunDoesNotPublish(t *testing.T) {
	messages := []*sarama.ConsumerMessage{
		dlqMessage(t, 0, string(domain.SaleEventCompleted)),
		{Offset: 1, Value: []byte("garbage")},
	}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicSalesEvents, limit: 10, idleTimeout: time.Second}

	stats, err := newTestReplayer(cfg, messages, nil).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{scanned: 2, replayed: 1, skipped: 1}, stats)
}

func TestReplayer_ExecutePublishesSaleEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env kafka.Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.AggregateID != "sale-1" || env.EventType != string(domain.SaleEventQueued) {
			return errors.New("unexpected envelope")
		}
		return nil
	})
	defer func() { require.NoError(t, producer.Close()) }()

	messages := []*sarama.ConsumerMessage{
		dlqMessage(t, 0, string(domain.SaleEventQueued)),
		dlqMessage(t, 1, string(domain.SaleEventPendingSynced)),
	}
	cfg := config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicSalesEvents,
		eventTypes:  map[string]bool{string(domain.SaleEventQueued): true},
		limit:       10,
		execute:     true,
		idleTimeout: time.Second,
	}

	stats, err := newTestReplayer(cfg, messages, producer).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{scanned: 2, replayed: 1, skipped: 1}, stats)
}

func TestReplayer_RespectsLimit(t *testing.T) {
	messages := []*sarama.ConsumerMessage{
		dlqMessage(t, 0, string(domain.SaleEventCompleted)),
		dlqMessage(t, 1, string(domain.SaleEventCompleted)),
		dlqMessage(t, 2, string(domain.SaleEventCompleted)),
	}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicSalesEvents, limit: 2, idleTimeout: time.Second}

	stats, err := newTestReplayer(cfg, messages, nil).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.scanned)
}

func TestReplayer_ExecuteRequiresProducer(t *testing.T) {
	cfg := config{sourceTopic: "a", targetTopic: "b", limit: 1, execute: true, idleTimeout: time.Second}
	_, err := newTestReplayer(cfg, nil, nil).run(context.Background())
	assert.Error(t, err)
}
