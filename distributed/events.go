package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/researchaccelerator-hub/media-atlas/metrics"
	"github.com/rs/zerolog/log"
)

// EventKind names a discrete event consumed by the dashboard and alerting.
type EventKind string

const (
	EventSourcePromoted      EventKind = "source_promoted"
	EventSourceSuspended     EventKind = "source_suspended"
	EventFingerprintDrift    EventKind = "fingerprint_drift"
	EventResolutionCompleted EventKind = "resolution_completed"
	EventCrawlJobResumed     EventKind = "crawl_job_resumed"
	EventSubsystemRestarted  EventKind = "subsystem_restarted"
)

// TopicEvents is the pubsub topic and NATS subject root for events.
const TopicEvents = "atlas-events"

// Event is the envelope published for every kind.
type Event struct {
	ID         string                 `json:"id"`
	Kind       EventKind              `json:"kind"`
	Domain     string                 `json:"domain,omitempty"`
	URL        string                 `json:"url,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	TraceID    string                 `json:"trace_id,omitempty"`
}

// NewEvent creates an event stamped with a fresh id and the current time.
func NewEvent(kind EventKind, domain string, attrs map[string]interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Domain:     domain,
		Attributes: attrs,
		Timestamp:  time.Now().UTC(),
		TraceID:    generateTraceID(),
	}
}

// WithURL sets the article or page URL on the event.
func (e Event) WithURL(u string) Event {
	e.URL = u
	return e
}

// Validate validates an Event
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID cannot be empty")
	}
	switch e.Kind {
	case EventSourcePromoted, EventSourceSuspended, EventFingerprintDrift,
		EventResolutionCompleted, EventCrawlJobResumed, EventSubsystemRestarted:
	default:
		return fmt.Errorf("invalid event kind: %s", e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp cannot be zero")
	}
	return nil
}

// Sink receives events. Emit never fails the caller: sinks log and count
// their own delivery errors.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Publisher is the part of the Dapr client used to publish.
type Publisher interface {
	PublishEvent(ctx context.Context, pubsubName, topicName string, data interface{}, opts ...daprc.PublishEventOption) error
}

// DaprSink publishes events to a Dapr pubsub component.
type DaprSink struct {
	client     Publisher
	pubsubName string
	topic      string
}

func NewDaprSink(client Publisher, pubsubName, topic string) *DaprSink {
	if topic == "" {
		topic = TopicEvents
	}
	return &DaprSink{client: client, pubsubName: pubsubName, topic: topic}
}

func (s *DaprSink) Emit(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("kind", string(event.Kind)).Msg("Failed to marshal event")
		metrics.EventsTotal.WithLabelValues(string(event.Kind), "error").Inc()
		return
	}

	if err := s.client.PublishEvent(ctx, s.pubsubName, s.topic, data); err != nil {
		log.Warn().
			Err(err).
			Str("kind", string(event.Kind)).
			Str("event_id", event.ID).
			Str("topic", s.topic).
			Msg("Failed to publish event")
		metrics.EventsTotal.WithLabelValues(string(event.Kind), "error").Inc()
		return
	}

	metrics.EventsTotal.WithLabelValues(string(event.Kind), "published").Inc()
	log.Debug().
		Str("kind", string(event.Kind)).
		Str("event_id", event.ID).
		Str("trace_id", event.TraceID).
		Msg("Published event")
}

// natsConn is the subset of *nats.Conn used by NATSSink.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events on "<subjectRoot>.<kind>".
type NATSSink struct {
	conn        natsConn
	subjectRoot string
}

// ConnectNATS dials a NATS server with unlimited reconnects.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS connection lost")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

func NewNATSSink(conn natsConn, subjectRoot string) *NATSSink {
	if subjectRoot == "" {
		subjectRoot = "atlas.events"
	}
	return &NATSSink{conn: conn, subjectRoot: subjectRoot}
}

func (s *NATSSink) Emit(_ context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("kind", string(event.Kind)).Msg("Failed to marshal event")
		metrics.EventsTotal.WithLabelValues(string(event.Kind), "error").Inc()
		return
	}

	subject := s.subjectRoot + "." + string(event.Kind)
	if err := s.conn.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event to NATS")
		metrics.EventsTotal.WithLabelValues(string(event.Kind), "error").Inc()
		return
	}
	metrics.EventsTotal.WithLabelValues(string(event.Kind), "published").Inc()
}

// LogSink writes events to the structured log only.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, event Event) {
	metrics.EventsTotal.WithLabelValues(string(event.Kind), "logged").Inc()
	log.Info().
		Str("kind", string(event.Kind)).
		Str("domain", event.Domain).
		Str("url", event.URL).
		Interface("attributes", event.Attributes).
		Msg("Event")
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}

// RecordingSink keeps events in memory for tests.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingSink) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *RecordingSink) Kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}
