package realtime

import (
	"encoding/json"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

// Inbound message types.
const (
	MsgSubscribeLogs       = "subscribe_logs"
	MsgUnsubscribeLogs     = "unsubscribe_logs"
	MsgSubscribeStatuses   = "subscribe_deployment_statuses"
	MsgUnsubscribeStatuses = "unsubscribe_deployment_statuses"
)

// Outbound frame types.
const (
	FrameLogs      = "logs"
	FrameLogsError = "logs_error"
	FrameStatuses  = "deployment_statuses"
	FrameError     = "error"
)

// envelope carries the type discriminator of an inbound message.
type envelope struct {
	Type string `json:"type"`
}

// subscribeLogsMsg asks for a log tail on one server.
type subscribeLogsMsg struct {
	ServerID string `json:"serverId"`
	Lines    int    `json:"lines,omitempty"`
}

func (m *subscribeLogsMsg) validate() error {
	if m.ServerID == "" {
		return errMissingServerID
	}
	return nil
}

// logsFrame delivers a chunk of log output. Command is included once, on
// the initial confirmation frame, documenting how logs are retrieved.
type logsFrame struct {
	Type     string `json:"type"`
	ServerID string `json:"serverId"`
	Logs     string `json:"logs"`
	Command  string `json:"command,omitempty"`
}

// logsErrorFrame reports a failure scoped to one server's log stream.
type logsErrorFrame struct {
	Type     string `json:"type"`
	ServerID string `json:"serverId"`
	Error    string `json:"error"`
}

// statusesFrame delivers a full deployment status snapshot.
type statusesFrame struct {
	Type     string                                 `json:"type"`
	Statuses map[string]contracts.DeploymentStatus `json:"statuses"`
}

// errorFrame reports a connection-level error.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newLogsFrame(serverID, logs, command string) *logsFrame {
	return &logsFrame{Type: FrameLogs, ServerID: serverID, Logs: logs, Command: command}
}

func newLogsErrorFrame(serverID, message string) *logsErrorFrame {
	return &logsErrorFrame{Type: FrameLogsError, ServerID: serverID, Error: message}
}

func newStatusesFrame(statuses map[string]contracts.DeploymentStatus) *statusesFrame {
	return &statusesFrame{Type: FrameStatuses, Statuses: statuses}
}

func newErrorFrame(message string) *errorFrame {
	return &errorFrame{Type: FrameError, Message: message}
}

// parseEnvelope extracts the message type without consuming the payload.
func parseEnvelope(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}
