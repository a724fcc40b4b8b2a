// Package pubsub is the Google Pub/Sub sink for the outbox relay.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errClosed            = errors.New("pubsub client not initialized")
)

// Client publishes with ordering keys enabled, one Publisher per topic.
type Client struct {
	client *pubsub.Client
	paths  map[string]string // routing name -> projects/<p>/topics/<t>

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to projectID and fails if any of topics is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, topics []string, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	paths := make(map[string]string, len(topics))
	for _, name := range topics {
		path, err := topicPath(project, name)
		if err != nil {
			return nil, err
		}
		paths[name] = path
	}

	ps, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: ps, paths: paths, publishers: map[string]*pubsub.Publisher{}}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project": project, "topics": len(paths)}), "pubsub client initialized")
	}
	return c, nil
}

// topicPath expands a short topic name; fully qualified names pass through.
func topicPath(project, name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errors.New("blank pubsub topic")
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name, nil
	case project == "":
		return "", errProjectIDRequired
	default:
		return "projects/" + project + "/topics/" + name, nil
	}
}

// Ping confirms every routed topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errClosed
	}
	for name, path := range c.paths {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: path})
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("topic %q does not exist", name)
		case err != nil:
			return fmt.Errorf("checking topic %q: %w", name, err)
		}
	}
	return nil
}

// Publish blocks until the server acks. msg.Key is the ordering key, so a
// failure pauses that key until ResumePublish.
func (c *Client) Publish(ctx context.Context, topic string, msg outbox.Message) error {
	p, err := c.publisher(topic)
	if err != nil {
		return err
	}
	res := p.Publish(ctx, &pubsub.Message{Data: msg.Data, Attributes: msg.Attributes, OrderingKey: msg.Key})
	if _, err := res.Get(ctx); err != nil {
		p.ResumePublish(msg.Key)
		return fmt.Errorf("pubsub publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) publisher(topic string) (*pubsub.Publisher, error) {
	if c == nil || c.client == nil {
		return nil, errClosed
	}
	path, ok := c.paths[topic]
	if !ok {
		return nil, fmt.Errorf("topic %q not configured", topic)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.publishers[path]
	if !ok {
		p = c.client.Publisher(path)
		p.EnableMessageOrdering = true
		c.publishers[path] = p
	}
	return p, nil
}

// Close flushes and stops every publisher before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for path, p := range c.publishers {
		p.Stop()
		delete(c.publishers, path)
	}
	c.mu.Unlock()
	return c.client.Close()
}
