// Package sdkrunner implements the in-process "SDK runner" alternative to a
// terminal window: an agent reachable over the agentapi HTTP protocol
// instead of a PTY. Its surface is a small agent contract (Execute/Stream/
// IsHealthy/Name), narrowed to the one operation the Router needs:
// submitting a user message and letting the agent's own hook events (not
// a reply value) drive the rest of the turn.
package sdkrunner

import (
	"context"
	"fmt"

	agentapi "github.com/coder/agentapi-sdk-go/gen"
)

// Runner is anything the Router can hand a user message to without going
// through a terminal window's typeKeys/sendEnter dance.
type Runner interface {
	Name() string
	SubmitMessage(ctx context.Context, content string) error
	IsHealthy(ctx context.Context) bool
}

// SDKRunner submits messages to an agentapi-compatible HTTP server running
// the agent in-process, via the generated agentapi-sdk-go client.
type SDKRunner struct {
	name   string
	client *agentapi.ClientWithResponses
}

// New creates a runner named name, backed by the agentapi server at baseURL.
func New(name, baseURL string) (*SDKRunner, error) {
	client, err := agentapi.NewClientWithResponses(baseURL)
	if err != nil {
		return nil, fmt.Errorf("creating agentapi client for %s: %w", name, err)
	}
	return &SDKRunner{name: name, client: client}, nil
}

func (r *SDKRunner) Name() string { return r.name }

// SubmitMessage posts content as a new user message on the SDK agent's
// conversation. It is fire-and-forget from the Router's perspective: the
// resulting turn is observed through hook events, not this call's return.
func (r *SDKRunner) SubmitMessage(ctx context.Context, content string) error {
	resp, err := r.client.PostMessageWithResponse(ctx, agentapi.PostMessageJSONRequestBody{
		Content: content,
		Type:    agentapi.MessageTypeUser,
	})
	if err != nil {
		return fmt.Errorf("submitting message to %s: %w", r.name, err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("agentapi %s returned status %d", r.name, resp.StatusCode())
	}
	return nil
}

// IsHealthy probes the SDK agent's status endpoint.
func (r *SDKRunner) IsHealthy(ctx context.Context) bool {
	resp, err := r.client.GetStatusWithResponse(ctx)
	if err != nil {
		return false
	}
	return resp.StatusCode() == 200
}

var _ Runner = (*SDKRunner)(nil)
