// Package compute is the client side of the provisioning boundary: an HTTP
// client for the external provisioner plus an MCP protocol client for tool
// listing. The provisioner itself (process manager, container runtime)
// lives outside this repo.
package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

const (
	logCommandHeader = "X-Log-Command"
	mcpTimeout       = 60 * time.Second
)

// Client talks to the provisioner's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

// NewClient creates a provisioner client. The readiness wait is bounded by
// the provisioner, not by this client, so the HTTP client carries no
// request timeout; pass a context to bound individual calls.
func NewClient(baseURL string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		logger:  logger,
	}
}

// Restart asks the provisioner to restart a server's compute.
func (c *Client) Restart(ctx context.Context, serverID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/servers/%s/restart", url.PathEscape(serverID)))
}

// WaitUntilReady blocks until the provisioner reports the server ready.
// The provisioner enforces its own timeout and surfaces it as an error.
func (c *Client) WaitUntilReady(ctx context.Context, serverID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/servers/%s/wait", url.PathEscape(serverID)))
}

// StreamLogs opens a log tail for a server. The returned reader delivers
// chunks in stream order until the caller cancels ctx or closes it. The
// second return value is the command the provisioner runs to retrieve logs,
// reported once for operator transparency.
func (c *Client) StreamLogs(ctx context.Context, serverID string, lines int) (io.ReadCloser, string, error) {
	u := fmt.Sprintf("%s/v1/servers/%s/logs?lines=%s",
		c.baseURL, url.PathEscape(serverID), strconv.Itoa(lines))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build log stream request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log stream for server %s: %w", serverID, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", c.responseError(resp)
	}
	return resp.Body, resp.Header.Get(logCommandHeader), nil
}

// StatusSummary fetches the deployment status of every server the
// provisioner manages.
func (c *Client) StatusSummary(ctx context.Context) (map[string]contracts.DeploymentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch status summary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp)
	}

	var summary map[string]contracts.DeploymentStatus
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("failed to decode status summary: %w", err)
	}
	return summary, nil
}

// ListTools connects to the deployed server's MCP endpoint and lists its
// tools. The endpoint address is resolved through the provisioner.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*contracts.Tool, error) {
	endpoint, err := c.resolveEndpoint(ctx, serverID)
	if err != nil {
		return nil, err
	}

	httpTransport, err := transport.NewStreamableHTTP(endpoint,
		transport.WithHTTPTimeout(mcpTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP transport for server %s: %w", serverID, err)
	}
	client := mcpclient.NewClient(httpTransport)
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client for server %s: %w", serverID, err)
	}
	defer client.Close()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "agentgrid",
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	serverInfo, err := client.Initialize(ctx, initRequest)
	if err != nil {
		return nil, fmt.Errorf("MCP initialize failed for server %s: %w", serverID, err)
	}
	if serverInfo.Capabilities.Tools == nil {
		c.logger.Debugw("Server does not support tools", "server_id", serverID)
		return nil, nil
	}

	toolsResult, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools for server %s: %w", serverID, err)
	}

	tools := make([]*contracts.Tool, 0, len(toolsResult.Tools))
	for i := range toolsResult.Tools {
		tool := &toolsResult.Tools[i]
		var paramsJSON string
		if schemaBytes, err := json.Marshal(tool.InputSchema); err == nil {
			paramsJSON = string(schemaBytes)
		}
		tools = append(tools, &contracts.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			ParamsJSON:  paramsJSON,
		})
	}
	return tools, nil
}

func (c *Client) resolveEndpoint(ctx context.Context, serverID string) (string, error) {
	u := fmt.Sprintf("%s/v1/servers/%s/endpoint", c.baseURL, url.PathEscape(serverID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build endpoint request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to resolve endpoint for server %s: %w", serverID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.responseError(resp)
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode endpoint response: %w", err)
	}
	if payload.URL == "" {
		return "", fmt.Errorf("provisioner returned empty endpoint for server %s", serverID)
	}
	return payload.URL, nil
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return c.responseError(resp)
	}
	return nil
}

func (c *Client) responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if len(body) > 0 {
		return fmt.Errorf("provisioner returned %d: %s", resp.StatusCode, string(body))
	}
	return fmt.Errorf("provisioner returned %d", resp.StatusCode)
}
