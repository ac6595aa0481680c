package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/infra/config"
)

// Producer wraps a Sarama AsyncProducer and drains its error channel.
type Producer struct {
	producer sarama.AsyncProducer
	logger   *zap.Logger
	cfg      config.KafkaSettings
	errChan  chan error
	done     chan struct{}
}

// NewProducer connects to the configured brokers.
func NewProducer(cfg config.KafkaSettings, logger *zap.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("create kafka producer: no brokers configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.ClientID = "patient-portal-iam"

	// Audit events matter more than throughput, wait for all in-sync replicas.
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 50
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := newProducer(producer, cfg, logger)
	logger.Info("kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
	)
	return p, nil
}

func newProducer(producer sarama.AsyncProducer, cfg config.KafkaSettings, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{
		producer: producer,
		logger:   logger,
		cfg:      cfg,
		errChan:  make(chan error, 64),
		done:     make(chan struct{}),
	}
	go p.handleErrors()
	return p
}

func (p *Producer) handleErrors() {
	for {
		select {
		case perr, ok := <-p.producer.Errors():
			if !ok {
				return
			}
			if perr == nil {
				continue
			}
			p.logger.Error("kafka delivery failed",
				zap.Error(perr.Err),
				zap.String("topic", perr.Msg.Topic),
			)
			select {
			case p.errChan <- perr.Err:
			default:
				p.logger.Warn("kafka error channel full, dropping error")
			}
		case <-p.done:
			return
		}
	}
}

// Send enqueues value on topic, keyed by key when non-empty. It returns once
// the message is accepted by the producer, not when it is acknowledged.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: p.TopicName(topic),
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors exposes asynchronous delivery failures.
func (p *Producer) Errors() <-chan error {
	return p.errChan
}

// Close flushes pending messages and stops the error handler.
func (p *Producer) Close() error {
	p.logger.Info("closing kafka producer")
	close(p.done)
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// TopicName prepends the configured prefix unless the name already carries it.
func (p *Producer) TopicName(name string) string {
	if p.cfg.TopicPrefix == "" {
		return name
	}
	prefix := p.cfg.TopicPrefix + "."
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}
