// Команда dlq-reprocess возвращает события продаж из DLQ в основной topic.
// По умолчанию работает в dry-run: только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	brokersEnv         = "POS_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventTypes  map[string]bool
	limit       int
	execute     bool
	idleTimeout time.Duration
}

func (c config) wants(eventType string) bool {
	return len(c.eventTypes) == 0 || c.eventTypes[eventType]
}

func parseConfig(args []string, lookup func(string) string) (config, error) {
	var (
		cfg        config
		brokersRaw string
		eventsRaw  string
	)
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: "+brokersEnv+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicSalesEvents, "topic to replay into")
	fs.StringVar(&eventsRaw, "event-types", "", "replay only these event types, comma-separated")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of DLQ messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replayed events; default is dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = lookup(brokersEnv)
	}
	cfg.brokers = splitList(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", brokersEnv)
	}
	if events := splitList(eventsRaw); len(events) > 0 {
		cfg.eventTypes = make(map[string]bool, len(events))
		for _, e := range events {
			cfg.eventTypes[e] = true
		}
	}

	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	switch {
	case cfg.sourceTopic == "" || cfg.targetTopic == "":
		return config{}, errors.New("source-topic and target-topic are required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, errors.New("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, chunk := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(chunk); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// offsetSource отдаёт границы партиций topic.
type offsetSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// partitionStream — сообщения одной партиции.
type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// partitionReader читает одну партицию с заданного offset.
type partitionReader interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
}

type saramaReader struct {
	consumer sarama.Consumer
}

func (r saramaReader) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return r.consumer.ConsumePartition(topic, partition, offset)
}

// replayer сканирует DLQ и публикует восстановленные события.
type replayer struct {
	cfg      config
	offsets  offsetSource
	reader   partitionReader
	producer sarama.SyncProducer
	logger   *log.Entry
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.cfg.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.scanned >= r.cfg.limit {
			break
		}
		stats, err := r.replayPartition(ctx, partition, r.cfg.limit-total.scanned)
		total.scanned += stats.scanned
		total.replayed += stats.replayed
		total.skipped += stats.skipped
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	pc, err := r.reader.ConsumePartition(r.cfg.sourceTopic, partition, oldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr, ok := <-pc.Errors():
			if ok && cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.scanned++
			if err := r.handle(msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, stats *replayStats) error {
	fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

	out, err := restoreEvent(msg)
	if err != nil {
		stats.skipped++
		r.logger.WithError(err).WithFields(fields).Warn("skip malformed dlq message")
		return nil
	}
	if !r.cfg.wants(out.EventType) {
		stats.skipped++
		return nil
	}

	fields["sale_key"] = out.AggregateID
	fields["event_type"] = out.EventType
	if !r.cfg.execute {
		stats.replayed++
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return nil
	}

	if err := publish(r.producer, r.cfg.targetTopic, out); err != nil {
		return fmt.Errorf("replay %s: %w", out.ID, err)
	}
	stats.replayed++
	r.logger.WithFields(fields).Info("dlq event replayed")
	return nil
}

// restoreEvent извлекает исходное outbox-сообщение продажи из конверта DLQ.
func restoreEvent(msg *sarama.ConsumerMessage) (domain.OutboxMessage, error) {
	env, err := kafka.ParseEnvelope(msg)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	var letter outbox.DeadLetter
	if err := json.Unmarshal(env.Payload, &letter); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("decode dead letter: %w", err)
	}

	out := domain.OutboxMessage{
		ID:            firstNonEmpty(letter.OutboxID, env.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, env.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, env.EventType),
		Payload:       letter.Payload,
	}
	if out.AggregateType != domain.SaleAggregateType {
		return domain.OutboxMessage{}, fmt.Errorf("unexpected aggregate type %q", out.AggregateType)
	}
	if len(out.Payload) == 0 {
		return domain.OutboxMessage{}, errors.New("dead letter has no original payload")
	}
	return out, nil
}

// publish отправляет событие в том же формате, что и outbox worker.
func publish(producer sarama.SyncProducer, topic string, event domain.OutboxMessage) error {
	value, err := json.Marshal(kafka.NewEnvelope(event))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	key := firstNonEmpty(event.AggregateID, event.ID)
	_, _, err = producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(event.EventType)},
			{Key: []byte(kafka.HeaderAggregateType), Value: []byte(event.AggregateType)},
		},
		Timestamp: time.Now().UTC(),
	})
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func newSaramaReplayer(cfg config, logger *log.Entry) (*replayer, func(), error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	r := &replayer{cfg: cfg, offsets: client, reader: saramaReader{consumer: consumer}, logger: logger}
	closeAll := func() {
		if r.producer != nil {
			_ = r.producer.Close()
		}
		_ = consumer.Close()
		_ = client.Close()
	}
	if !cfg.execute {
		return r, closeAll, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1
	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	r.producer = producer
	return r, closeAll, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "dlq-reprocess")

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		logger.WithError(err).Fatal("invalid arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, closeAll, err := newSaramaReplayer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("kafka is not available")
	}

	stats, err := r.run(ctx)
	closeAll()
	entry := logger.WithFields(log.Fields{
		"execute":  cfg.execute,
		"scanned":  stats.scanned,
		"replayed": stats.replayed,
		"skipped":  stats.skipped,
	})
	if err != nil {
		entry.WithError(err).Fatal("dlq replay failed")
	}
	entry.Info("dlq replay finished")
}
