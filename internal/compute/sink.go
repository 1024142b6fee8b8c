package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

const sinkTimeout = 10 * time.Second

// Report pushes a deployment snapshot to the provisioner's metrics intake.
// The caller treats failures as best effort.
func (c *Client) Report(snapshot map[string]contracts.ServerMetric) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode metrics snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/metrics", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build metrics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to report metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return c.responseError(resp)
	}
	return nil
}
