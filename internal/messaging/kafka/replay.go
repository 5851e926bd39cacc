package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultReplayLimit       = 100
	defaultReplayIdleTimeout = 2 * time.Second
)

// OffsetReader отдаёт границы партиции; реализуется sarama.Client.
type OffsetReader interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// ReplayConfig задаёт параметры повторной публикации из DLQ.
type ReplayConfig struct {
	SourceTopic string
	TargetTopic string
	Limit       int
	// Execute=false - dry-run: кандидаты только логируются.
	Execute     bool
	IdleTimeout time.Duration
}

// ReplayStats: итог прохода по DLQ.
type ReplayStats struct {
	Processed int
	Replayed  int
	Skipped   int
}

// Replayer перечитывает DLQ и возвращает события order.placed в основной topic.
type Replayer struct {
	offsets  OffsetReader
	consumer sarama.Consumer
	producer *Producer
	cfg      ReplayConfig
	logger   *log.Entry
}

// NewReplayer создаёт replayer. producer может быть nil только в dry-run.
func NewReplayer(offsets OffsetReader, consumer sarama.Consumer, producer *Producer, cfg ReplayConfig) (*Replayer, error) {
	if offsets == nil || consumer == nil {
		return nil, errors.New("kafka offsets reader and consumer are required")
	}
	if cfg.Execute && producer == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	if cfg.SourceTopic == "" {
		cfg.SourceTopic = TopicDeadLetterQueue
	}
	if cfg.TargetTopic == "" {
		cfg.TargetTopic = TopicOrderEvents
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultReplayLimit
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultReplayIdleTimeout
	}

	return &Replayer{
		offsets:  offsets,
		consumer: consumer,
		producer: producer,
		cfg:      cfg,
		logger:   log.WithField("component", "dlq-replayer"),
	}, nil
}

// Run проходит партиции source topic по возрастанию номера, пока не наберёт Limit сообщений.
func (r *Replayer) Run(ctx context.Context) (ReplayStats, error) {
	var total ReplayStats

	partitions, err := r.consumer.Partitions(r.cfg.SourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.SourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := r.cfg.Limit - total.Processed
		if remaining <= 0 {
			break
		}

		stats, err := r.replayPartition(ctx, partition, remaining)
		total.Processed += stats.Processed
		total.Replayed += stats.Replayed
		total.Skipped += stats.Skipped
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"execute":   r.cfg.Execute,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")

	return total, nil
}

func (r *Replayer) replayPartition(ctx context.Context, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats

	oldest, err := r.offsets.GetOffset(r.cfg.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.SourceTopic, partition, oldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.IdleTimeout)
	defer idle.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr, ok := <-pc.Errors():
			if ok && cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.cfg.IdleTimeout)
			stats.Processed++

			envelope, err := DeadLetterToEnvelope(msg)
			if err != nil {
				stats.Skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
				continue
			}

			logger := r.logger.WithFields(log.Fields{
				"partition":  msg.Partition,
				"offset":     msg.Offset,
				"outbox_id":  envelope.ID,
				"event_type": envelope.EventType,
			})
			if r.cfg.Execute {
				headers := map[string]string{
					HeaderEventType:     envelope.EventType,
					HeaderAggregateType: envelope.AggregateType,
					HeaderReplayedAt:    envelope.PublishedAt.Format(time.RFC3339Nano),
				}
				if err := r.producer.PublishEvent(ctx, r.cfg.TargetTopic, envelope.Key(), headers, envelope); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				logger.Info("dlq message replayed")
			} else {
				logger.Info("dlq replay candidate")
			}
			stats.Replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}

	return stats, nil
}

// DeadLetterToEnvelope восстанавливает исходный конверт события из записи DLQ.
func DeadLetterToEnvelope(msg *sarama.ConsumerMessage) (Envelope, error) {
	outer, err := ParseEnvelope(msg)
	if err != nil {
		return Envelope{}, err
	}
	if len(outer.Payload) == 0 {
		return Envelope{}, errors.New("dlq envelope has empty payload")
	}

	var letter domain.OutboxDeadLetter
	if err := json.Unmarshal(outer.Payload, &letter); err != nil {
		return Envelope{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 {
		return Envelope{}, errors.New("dead letter does not contain original event payload")
	}

	return Envelope{
		ID:            firstNonEmpty(letter.OutboxID, outer.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, outer.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, outer.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, outer.EventType),
		Payload:       letter.Payload,
		PublishedAt:   time.Now().UTC(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
