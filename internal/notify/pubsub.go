package notify

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

// PubSubPublisher publishes events as JSON messages to a Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSub connects to projectID using credentialsJSON, or application
// default credentials when it is empty.
func NewPubSub(ctx context.Context, projectID, topic, credentialsJSON string, opts ...option.ClientOption) (*PubSubPublisher, error) {
	if projectID == "" {
		return nil, eris.New("notify: project id is required")
	}
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "notify: pubsub client")
	}
	return &PubSubPublisher{client: client, topic: client.Topic(topic)}, nil
}

// Publish sends ev and waits for the server acknowledgement. Attributes let
// subscribers filter without decoding the body.
func (p *PubSubPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}
	attrs := map[string]string{
		"document_id": ev.DocumentID,
		"company_id":  ev.CompanyID,
		"state":       string(ev.State),
	}
	if ev.ErrorCode != "" {
		attrs["error_code"] = string(ev.ErrorCode)
	}
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := res.Get(ctx); err != nil {
		return eris.Wrapf(err, "notify: publish %s", ev.DocumentID)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return eris.Wrap(p.client.Close(), "notify: close pubsub client")
}
