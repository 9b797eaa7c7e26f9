package platform

import (
	"context"

	"github.com/dguik/discode/lib/msgfmt"
	"github.com/dguik/discode/lib/resilience"
)

// ResilientSender wraps a Sender with a per-channel circuit breaker, so a
// platform outage (Discord/Slack rate limiting or an incident) trips open
// after repeated failures instead of letting every handler in the FIFO
// queue block on the same dying HTTP client.
type ResilientSender struct {
	inner    Sender
	breakers *resilience.MultiCircuitBreaker
}

// NewResilientSender wraps inner using config for every channel's breaker
// (created lazily on first use, per MultiCircuitBreaker.GetOrCreate).
func NewResilientSender(inner Sender, config resilience.CBConfig) *ResilientSender {
	return &ResilientSender{
		inner:    inner,
		breakers: resilience.NewMultiCircuitBreaker(config),
	}
}

func (r *ResilientSender) Platform() msgfmt.Platform { return r.inner.Platform() }

func (r *ResilientSender) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	var id string
	err := r.breakers.Execute(ctx, channelID, func() error {
		var sendErr error
		id, sendErr = r.inner.SendMessage(ctx, channelID, text)
		return sendErr
	})
	return id, err
}

func (r *ResilientSender) EditMessage(ctx context.Context, channelID, messageID, text string) error {
	return r.breakers.Execute(ctx, channelID, func() error {
		return r.inner.EditMessage(ctx, channelID, messageID, text)
	})
}

func (r *ResilientSender) SetReaction(ctx context.Context, channelID, messageID string, glyph Reaction) error {
	return r.breakers.Execute(ctx, channelID, func() error {
		return r.inner.SetReaction(ctx, channelID, messageID, glyph)
	})
}

func (r *ResilientSender) SendFiles(ctx context.Context, channelID string, paths []string) error {
	return r.breakers.Execute(ctx, channelID, func() error {
		return r.inner.SendFiles(ctx, channelID, paths)
	})
}

// Health returns every channel breaker's current status, for the liveness
// endpoint to surface which channels are currently degraded.
func (r *ResilientSender) Health() resilience.HealthStatus {
	return r.breakers.GetHealthStatus()
}

var _ Sender = (*ResilientSender)(nil)
