package redisx

import (
	"context"
	"fmt"
)

// HealthCheck implements the platform health.HealthCheck interface for a
// Client, so the liveness endpoint can report Redis availability alongside
// the database and platform senders.
type HealthCheck struct {
	client *Client
}

// NewHealthCheck wraps client for health reporting.
func NewHealthCheck(client *Client) *HealthCheck {
	return &HealthCheck{client: client}
}

// Check performs the health check.
func (hc *HealthCheck) Check(ctx context.Context) error {
	if hc.client == nil {
		return fmt.Errorf("redisx: client is nil")
	}
	if err := hc.client.Health(); err != nil {
		return fmt.Errorf("redisx health check failed: %w", err)
	}
	return nil
}

// Status returns a detailed status map for a /health JSON payload.
func (hc *HealthCheck) Status(ctx context.Context) (map[string]interface{}, error) {
	status := make(map[string]interface{})

	if hc.client == nil {
		status["available"] = false
		status["error"] = "client is nil"
		return status, fmt.Errorf("redisx: client is nil")
	}

	err := hc.client.Health()
	status["available"] = err == nil
	status["protocol"] = string(hc.client.ActiveProtocol())

	if err != nil {
		status["error"] = err.Error()
		return status, err
	}

	return status, nil
}
