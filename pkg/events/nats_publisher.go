package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/srushti98/trpc-openapi/pkg/natsproc"
)

const natsPublisherLogPrefix = "events:nats_publisher"

// NATSPublisherOpts configures NATSPublisher. Nil or zero values use defaults.
type NATSPublisherOpts struct {
	// Subject overrides the base error event subject (e.g. from GATEWAY_ERROR_EVENT_SUBJECT).
	Subject string
}

// NATSPublisher publishes error events to bus subjects.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher creates a new NATSPublisher. Pass nil for opts to use defaults.
func NewNATSPublisher(nc *nats.Conn, opts *NATSPublisherOpts) *NATSPublisher {
	subject := natsproc.SubjectErrorEvents
	if opts != nil && opts.Subject != "" {
		subject = opts.Subject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

// PublishError publishes an ErrorEvent to both the code-granular and base
// subjects.
func (p *NATSPublisher) PublishError(_ context.Context, event *ErrorEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", natsPublisherLogPrefix, err)
	}

	if event.Code != "" {
		granular := fmt.Sprintf("%s.%s", p.subject, event.Code)
		if err := p.nc.Publish(granular, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", natsPublisherLogPrefix, granular, err))
			return err
		}
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", natsPublisherLogPrefix, p.subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published error event for %s %s", natsPublisherLogPrefix, event.Method, event.Path))
	return nil
}
