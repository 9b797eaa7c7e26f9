// Package eventsse serves /debug/events: a server-sent-events feed of
// pipeline activity for operators watching a live instance. Built on the
// go-sse library, which handles client reconnection (Last-Event-ID
// replay) and multi-subscriber fan-out.
package eventsse

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tmaxmax/go-sse"
)

// Activity is one pipeline event surfaced to operators: a dispatched hook,
// a posted message, a tripped circuit breaker, a fallback delivery.
type Activity struct {
	Kind      string         `json:"kind"`
	ChannelID string         `json:"channel_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Broadcaster fans Activity events out to every connected /debug/events
// client.
type Broadcaster struct {
	server *sse.Server
	logger *slog.Logger
}

// New creates a Broadcaster. Pass the result's ServeHTTP (or the
// Broadcaster itself, which implements http.Handler) to your router at
// /debug/events.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{server: &sse.Server{}, logger: logger}
}

// ServeHTTP subscribes the caller to the activity feed.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.server.ServeHTTP(w, r)
}

// Publish broadcasts an activity event to every connected subscriber.
// Marshal failures are logged, not returned, matching the pipeline's
// general best-effort stance toward observability side channels: a
// broken debug feed must never fail the hook dispatch that triggered it.
func (b *Broadcaster) Publish(a Activity) {
	data, err := json.Marshal(a)
	if err != nil {
		b.logger.Error("eventsse: failed to marshal activity", "error", err, "kind", a.Kind)
		return
	}

	msg := &sse.Message{Type: sse.Type(a.Kind)}
	msg.AppendData(string(data))

	if err := b.server.Publish(msg); err != nil {
		b.logger.Debug("eventsse: publish had no active subscribers", "error", err)
	}
}

// PublishDetail is a convenience wrapper for the common case of a kind,
// channel, and one-off detail map.
func (b *Broadcaster) PublishDetail(kind, channelID string, detail map[string]any) {
	b.Publish(Activity{Kind: kind, ChannelID: channelID, Detail: detail})
}

// Shutdown stops accepting new subscribers and closes existing ones.
func (b *Broadcaster) Shutdown(ctx context.Context) error {
	return b.server.Shutdown(ctx)
}
