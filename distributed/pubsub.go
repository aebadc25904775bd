package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/dapr/go-sdk/service/common"
	daprs "github.com/dapr/go-sdk/service/grpc"
	"github.com/rs/zerolog/log"
)

// pubsubClient is the part of daprc.Client the PubSubClient needs.
type pubsubClient interface {
	Publisher
	Close()
}

// PubSubClient provides an abstraction over Dapr PubSub functionality
type PubSubClient struct {
	daprClient    pubsubClient
	pubsubName    string
	appPort       string
	subscriptions map[string]common.TopicEventHandler
	registrars    []func(common.Service) error
}

// NewPubSubClient creates a new PubSub client connected to the local sidecar
func NewPubSubClient(pubsubName, appPort string) (*PubSubClient, error) {
	daprClient, err := daprc.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Dapr client: %w", err)
	}
	return NewPubSubClientWithClient(daprClient, pubsubName, appPort), nil
}

// NewPubSubClientWithClient wraps an existing client.
func NewPubSubClientWithClient(client pubsubClient, pubsubName, appPort string) *PubSubClient {
	return &PubSubClient{
		daprClient:    client,
		pubsubName:    pubsubName,
		appPort:       appPort,
		subscriptions: make(map[string]common.TopicEventHandler),
	}
}

// Publisher returns the underlying publisher, shared with the event sink.
func (p *PubSubClient) Publisher() Publisher {
	return p.daprClient
}

// PubSubName is the Dapr pubsub component in use.
func (p *PubSubClient) PubSubName() string {
	return p.pubsubName
}

// Close closes the PubSub client
func (p *PubSubClient) Close() error {
	if p.daprClient != nil {
		p.daprClient.Close()
	}
	return nil
}

func (p *PubSubClient) publish(ctx context.Context, topic string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", topic, err)
	}
	if err := p.daprClient.PublishEvent(ctx, p.pubsubName, topic, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// PublishWorkItem publishes a leased work item to the work queue
func (p *PubSubClient) PublishWorkItem(ctx context.Context, item WorkItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid work item: %w", err)
	}
	if err := p.publish(ctx, TopicWorkQueue, item); err != nil {
		return err
	}

	log.Debug().
		Str("work_item_id", item.ID).
		Str("url", item.URL).
		Int("tier", int(item.Tier)).
		Str("trace_id", item.TraceID).
		Msg("Published work item to queue")
	return nil
}

// PublishResult publishes a work result
func (p *PubSubClient) PublishResult(ctx context.Context, result WorkResult) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("invalid work result: %w", err)
	}
	if err := p.publish(ctx, TopicResults, result); err != nil {
		return err
	}

	log.Debug().
		Str("work_item_id", result.WorkItemID).
		Str("worker_id", result.WorkerID).
		Str("status", result.Status).
		Str("trace_id", result.TraceID).
		Msg("Published work result")
	return nil
}

// PublishStatus publishes a worker status message
func (p *PubSubClient) PublishStatus(ctx context.Context, status StatusMessage) error {
	if err := p.publish(ctx, TopicWorkerStatus, status); err != nil {
		return err
	}

	log.Debug().
		Str("worker_id", status.WorkerID).
		Str("message_type", status.MessageType).
		Str("status", status.Status).
		Msg("Published worker status")
	return nil
}

// decodeHandler adapts a typed handler to a topic handler. Malformed
// payloads are dropped; handler errors ask Dapr to redeliver.
func decodeHandler[T any](topic string, handler func(context.Context, T) error) common.TopicEventHandler {
	return func(ctx context.Context, e *common.TopicEvent) (bool, error) {
		log.Debug().
			Str("topic", e.Topic).
			Str("pubsub_name", e.PubsubName).
			Msg("Received message")

		var message T
		if err := json.Unmarshal(e.RawData, &message); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("Failed to unmarshal message")
			return false, err
		}

		if err := handler(ctx, message); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("Failed to handle message")
			return true, err
		}
		return false, nil
	}
}

// SubscribeToWorkQueue subscribes to the work queue topic
func (p *PubSubClient) SubscribeToWorkQueue(handler func(context.Context, WorkItem) error) {
	p.subscriptions[TopicWorkQueue] = decodeHandler(TopicWorkQueue, handler)
}

// SubscribeToResults subscribes to the results topic
func (p *PubSubClient) SubscribeToResults(handler func(context.Context, WorkResult) error) {
	p.subscriptions[TopicResults] = decodeHandler(TopicResults, handler)
}

// SubscribeToStatus subscribes to the worker status topic
func (p *PubSubClient) SubscribeToStatus(handler func(context.Context, StatusMessage) error) {
	p.subscriptions[TopicWorkerStatus] = decodeHandler(TopicWorkerStatus, handler)
}

// RegisterService adds extra handlers, such as job handlers, to the service
// StartServer creates.
func (p *PubSubClient) RegisterService(register func(common.Service) error) {
	p.registrars = append(p.registrars, register)
}

// register adds the topic subscriptions and extra handlers to server.
func (p *PubSubClient) register(server common.Service) error {
	for topic, handler := range p.subscriptions {
		subscription := &common.Subscription{
			PubsubName: p.pubsubName,
			Topic:      topic,
			Route:      "/" + topic,
		}

		if err := server.AddTopicEventHandler(subscription, handler); err != nil {
			return fmt.Errorf("failed to add topic event handler for %s: %w", topic, err)
		}

		log.Info().
			Str("topic", topic).
			Str("route", subscription.Route).
			Str("pubsub", p.pubsubName).
			Msg("Registered topic subscription")
	}

	for _, register := range p.registrars {
		if err := register(server); err != nil {
			return fmt.Errorf("failed to register service handlers: %w", err)
		}
	}

	return nil
}

// StartServer starts the Dapr service with all registered subscriptions and
// stops it when ctx is done.
func (p *PubSubClient) StartServer(ctx context.Context) error {
	if len(p.subscriptions) == 0 && len(p.registrars) == 0 {
		log.Info().Msg("No subscriptions registered, skipping server start")
		return nil
	}

	server, err := daprs.NewService(p.appPort)
	if err != nil {
		return fmt.Errorf("failed to create Dapr service: %w", err)
	}

	if err := p.register(server); err != nil {
		return err
	}

	log.Info().
		Str("port", p.appPort).
		Int("subscription_count", len(p.subscriptions)).
		Msg("Starting Dapr PubSub server")

	go func() {
		<-ctx.Done()
		if err := server.GracefulStop(); err != nil {
			log.Warn().Err(err).Msg("Dapr PubSub server stop failed")
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("dapr pubsub server failed: %w", err)
	}
	return nil
}
