package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type stubOffsets map[int32][2]int64

func (s stubOffsets) GetOffset(_ string, partition int32, at int64) (int64, error) {
	bounds, ok := s[partition]
	if !ok {
		return 0, errors.New("unknown partition")
	}
	if at == sarama.OffsetOldest {
		return bounds[0], nil
	}
	return bounds[1], nil
}

func deadLetterMessage(t *testing.T, outboxID string) *sarama.ConsumerMessage {
	t.Helper()

	letter, err := json.Marshal(domain.OutboxDeadLetter{
		OutboxID:      outboxID,
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-" + outboxID,
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       json.RawMessage(`{"order_id":"order-` + outboxID + `"}`),
		PublishError:  "kafka: client has run out of available brokers",
		Attempts:      3,
	})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(NewEnvelope(domain.OutboxMessage{
		ID:          outboxID,
		AggregateID: "order-" + outboxID,
		EventType:   domain.EventTypeOrderPlaced,
		Payload:     letter,
	}))
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Value: raw}
}

func TestDeadLetterToEnvelope(t *testing.T) {
	envelope, err := DeadLetterToEnvelope(deadLetterMessage(t, "o1"))
	if err != nil {
		t.Fatalf("DeadLetterToEnvelope failed: %v", err)
	}
	if envelope.ID != "o1" || envelope.Key() != "order-o1" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if string(envelope.Payload) != `{"order_id":"order-o1"}` {
		t.Fatalf("original payload was not restored: %s", envelope.Payload)
	}

	empty, _ := json.Marshal(Envelope{ID: "x"})
	if _, err := DeadLetterToEnvelope(&sarama.ConsumerMessage{Value: empty}); err == nil {
		t.Fatal("expected error for empty payload")
	}

	noOriginal, _ := json.Marshal(Envelope{ID: "x", Payload: json.RawMessage(`{"outbox_id":"x"}`)})
	if _, err := DeadLetterToEnvelope(&sarama.ConsumerMessage{Value: noOriginal}); err == nil {
		t.Fatal("expected error for dead letter without original payload")
	}
}

func TestReplayer_ExecuteRepublishesToTarget(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{TopicDeadLetterQueue: {0}})
	pc := consumer.ExpectConsumePartition(TopicDeadLetterQueue, 0, 0)
	pc.YieldMessage(deadLetterMessage(t, "o1"))
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("not json")})
	pc.YieldMessage(deadLetterMessage(t, "o2"))

	producerMock := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 2; i++ {
		producerMock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != TopicOrderEvents {
				return errors.New("unexpected topic " + msg.Topic)
			}
			if headerValue(msg, HeaderReplayedAt) == "" {
				return errors.New("missing replay header")
			}
			return nil
		})
	}

	replayer, err := NewReplayer(stubOffsets{0: {0, 3}}, consumer, NewProducerFromSync(producerMock), ReplayConfig{
		Execute:     true,
		IdleTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewReplayer failed: %v", err)
	}

	stats, err := replayer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats != (ReplayStats{Processed: 3, Replayed: 2, Skipped: 1}) {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := producerMock.Close(); err != nil {
		t.Fatal(err)
	}
	if err := consumer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReplayer_DryRunRespectsLimit(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{TopicDeadLetterQueue: {0, 1}})
	pc := consumer.ExpectConsumePartition(TopicDeadLetterQueue, 0, 0)
	pc.YieldMessage(deadLetterMessage(t, "o1"))
	pc.YieldMessage(deadLetterMessage(t, "o2"))

	replayer, err := NewReplayer(stubOffsets{0: {0, 2}, 1: {0, 5}}, consumer, nil, ReplayConfig{
		Limit:       2,
		IdleTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewReplayer failed: %v", err)
	}

	stats, err := replayer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Processed != 2 || stats.Replayed != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReplayer_IdleTimeoutAndEmptyPartition(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{TopicDeadLetterQueue: {0, 1}})
	consumer.ExpectConsumePartition(TopicDeadLetterQueue, 0, 0)

	replayer, err := NewReplayer(stubOffsets{0: {0, 4}, 1: {7, 7}}, consumer, nil, ReplayConfig{
		IdleTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewReplayer failed: %v", err)
	}

	stats, err := replayer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Processed != 0 {
		t.Fatalf("expected nothing processed, got %+v", stats)
	}
}

func TestNewReplayer_Validation(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)

	if _, err := NewReplayer(nil, consumer, nil, ReplayConfig{}); err == nil {
		t.Fatal("expected error without offsets reader")
	}
	if _, err := NewReplayer(stubOffsets{}, consumer, nil, ReplayConfig{Execute: true}); err == nil {
		t.Fatal("expected error without producer in execute mode")
	}
}
