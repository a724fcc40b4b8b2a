package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

const defaultWriteTimeout = 10 * time.Second

var errNoBrokers = errors.New("kafka brokers are required")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outbox messages synchronously so the caller can mark rows published only on ack.
type Publisher struct {
	brokers []string
	timeout time.Duration

	mu      sync.Mutex
	writers map[string]messageWriter
	factory func(topic string) messageWriter
}

func NewPublisher(ctx context.Context, cfg config.KafkaConfig, logg *logger.Logger) (*Publisher, error) {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	p := &Publisher{
		brokers: brokers,
		timeout: timeout,
		writers: map[string]messageWriter{},
	}
	p.factory = p.newWriter
	if logg != nil {
		logg.Info(logg.WithField(ctx, "brokers", brokers), "kafka publisher initialized")
	}
	return p, nil
}

func (p *Publisher) newWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           p.timeout,
		AllowAutoTopicCreation: true,
	}
}

func (p *Publisher) writer(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.factory(topic)
	p.writers[topic] = w
	return w
}

// Publish keys the message by aggregate id so all events for one order land on one partition.
func (p *Publisher) Publish(ctx context.Context, topic string, msg outbox.Message) error {
	if p == nil {
		return errors.New("kafka publisher not initialized")
	}
	if topic == "" {
		return errors.New("kafka topic is required")
	}
	headers := make([]kafka.Header, 0, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	err := p.writer(topic).WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Data,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil {
		return errors.New("kafka publisher not initialized")
	}
	dialer := &kafka.Dialer{Timeout: p.timeout}
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for topic, w := range p.writers {
		if closeErr := w.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close writer %s: %w", topic, closeErr))
		}
	}
	p.writers = map[string]messageWriter{}
	return err
}
