package outbox

import "context"

// Message is a broker-neutral representation of a published outbox row.
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Publisher delivers messages to a named topic on the configured sink.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}
