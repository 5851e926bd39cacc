package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "CHECKOUT_KAFKA_BROKERS"
)

type config struct {
	brokers []string
	replay  kafka.ReplayConfig
}

// replayDependencies: Kafka-клиенты одного прохода; closeFn освобождает всё созданное.
type replayDependencies struct {
	offsets  kafka.OffsetReader
	consumer sarama.Consumer
	producer *kafka.Producer
	closeFn  func()
}

var newReplayDependencies = func(cfg config) (replayDependencies, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = version.ClientID("checkout-dlq-replay")
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return replayDependencies{}, fmt.Errorf("create kafka client: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return replayDependencies{}, fmt.Errorf("create kafka consumer: %w", err)
	}

	deps := replayDependencies{offsets: client, consumer: consumer}
	if cfg.replay.Execute {
		producer, err := kafka.NewProducer(cfg.brokers)
		if err != nil {
			_ = consumer.Close()
			_ = client.Close()
			return replayDependencies{}, err
		}
		deps.producer = producer
	}

	deps.closeFn = func() {
		if deps.producer != nil {
			_ = deps.producer.Close()
		}
		_ = consumer.Close()
		_ = client.Close()
	}
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, cfg)
	if err != nil {
		fail("dlq replay failed: %v", err)
	}
	fmt.Printf("processed=%d replayed=%d skipped=%d execute=%t\n",
		stats.Processed, stats.Replayed, stats.Skipped, cfg.replay.Execute)
}

func readConfig(args []string, getenv func(string) string, output io.Writer) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.replay.SourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.replay.TargetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	fs.IntVar(&cfg.replay.Limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.replay.Execute, "execute", false, "execute replay; default is dry-run")
	fs.DurationVar(&cfg.replay.IdleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(envKafkaBrokers)
	}
	cfg.brokers = parseBrokers(brokersRaw)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case strings.TrimSpace(cfg.replay.SourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.replay.TargetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.replay.SourceTopic == cfg.replay.TargetTopic:
		return config{}, errors.New("source-topic and target-topic must differ")
	case cfg.replay.Limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.replay.IdleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) (kafka.ReplayStats, error) {
	log.WithFields(log.Fields{
		"source_topic": cfg.replay.SourceTopic,
		"target_topic": cfg.replay.TargetTopic,
		"limit":        cfg.replay.Limit,
		"execute":      cfg.replay.Execute,
	}).Info("starting dlq replay")

	deps, err := newReplayDependencies(cfg)
	if err != nil {
		return kafka.ReplayStats{}, err
	}
	if deps.closeFn != nil {
		defer deps.closeFn()
	}

	replayer, err := kafka.NewReplayer(deps.offsets, deps.consumer, deps.producer, cfg.replay)
	if err != nil {
		return kafka.ReplayStats{}, err
	}
	return replayer.Run(ctx)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
