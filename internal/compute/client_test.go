package compute

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
	"github.com/agentgrid-io/agentgrid/internal/deploystate"
)

func TestClient_Restart(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zap.NewNop().Sugar())
	require.NoError(t, client.Restart(context.Background(), "srv-1"))
	assert.Equal(t, "/v1/servers/srv-1/restart", gotPath)
}

func TestClient_RestartFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such server", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zap.NewNop().Sugar())
	err := client.Restart(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such server")
}

func TestClient_StreamLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("lines"))
		w.Header().Set("X-Log-Command", "docker logs --tail 50 srv-1")
		_, _ = w.Write([]byte("line one\nline two\n"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zap.NewNop().Sugar())
	stream, command, err := client.StreamLogs(context.Background(), "srv-1", 50)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "docker logs --tail 50 srv-1", command)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))
}

func TestClient_StreamLogsCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(srv.URL, zap.NewNop().Sugar())
	stream, _, err := client.StreamLogs(ctx, "srv-1", 10)
	require.NoError(t, err)
	defer stream.Close()

	cancel()
	_, err = io.ReadAll(stream)
	assert.Error(t, err) // cancelled mid-stream
}

func TestClient_StatusSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"srv-1": {"state": "ready"},
			"srv-2": {"state": "error", "error": "exit code 1"}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zap.NewNop().Sugar())
	summary, err := client.StatusSummary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, contracts.StateReady, summary["srv-1"].State)
	assert.Equal(t, "exit code 1", summary["srv-2"].Error)
}

func TestClient_ListToolsEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not deployed", http.StatusConflict)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zap.NewNop().Sugar())
	_, err := client.ListTools(context.Background(), "srv-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not deployed")
}

func TestStatusFeed_PopulatesStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"srv-1": {"state": "pending", "message": "starting"}}`))
	}))
	defer srv.Close()

	store := deploystate.New()
	client := NewClient(srv.URL, zap.NewNop().Sugar())
	feed := NewStatusFeed(client, store, zap.NewNop().Sugar(), 10*time.Millisecond)

	feed.Start(context.Background())
	defer feed.Stop()

	require.Eventually(t, func() bool {
		status, ok := store.Get("srv-1")
		return ok && status.State == contracts.StatePending
	}, time.Second, time.Millisecond)
}

func TestStatusFeed_KeepsSnapshotOnError(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	store := deploystate.New()
	store.SetStatus("srv-1", contracts.DeploymentStatus{State: contracts.StateReady})

	client := NewClient(failing.URL, zap.NewNop().Sugar())
	feed := NewStatusFeed(client, store, zap.NewNop().Sugar(), 5*time.Millisecond)
	feed.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	feed.Stop()

	status, ok := store.Get("srv-1")
	require.True(t, ok)
	assert.Equal(t, contracts.StateReady, status.State)
}

func TestClient_ReportMetrics(t *testing.T) {
	var gotPath string
	var gotBody map[string]contracts.ServerMetric
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zap.NewNop().Sugar())
	err := client.Report(map[string]contracts.ServerMetric{
		"srv-1": {Name: "github-mcp-user-1", State: contracts.StateReady},
	})
	require.NoError(t, err)
	assert.Equal(t, "/v1/metrics", gotPath)
	assert.Equal(t, contracts.StateReady, gotBody["srv-1"].State)
}

func TestClient_ReportMetricsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "intake unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zap.NewNop().Sugar())
	err := client.Report(map[string]contracts.ServerMetric{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intake unavailable")
}
