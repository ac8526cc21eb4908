package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/concord/pkg/cmd"
	"github.com/dukex/concord/pkg/config"
	"github.com/dukex/concord/pkg/eventbus"
	"github.com/dukex/concord/pkg/events"
	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/persistence/file"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T, bus eventbus.EventBus) *fiber.App {
	t.Helper()

	registry, err := cmd.NewRegistry(slog.Default(), "")
	require.NoError(t, err)

	cfg := &config.Config{}
	engine, err := cfg.Engine(registry, slog.Default())
	require.NoError(t, err)

	return NewAPI(slog.Default(), file.NewPersistence(t.TempDir()), registry, bus, engine).App()
}

func request(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t, nil)

	status, body := request(t, app, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Concord API", string(body))
}

func TestAPI_Probes(t *testing.T) {
	app := setupTestApp(t, nil)

	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			status, body := request(t, app, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "OK", string(body))
		})
	}
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t, nil)

	status, body := request(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}

func TestAPI_PublishesNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := cmd.NewEventBus("gochannel", slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan *events.InstanceActioned, 4)

	require.NoError(t, bus.Handle(events.InstanceActionedEvent, func(_ context.Context, event eventbus.Event) error {
		received <- event.(*events.InstanceActioned)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	app := setupTestApp(t, bus)

	status, body := request(t, app, http.MethodPost, "/workflows", map[string]any{"name": "Travel request"})
	require.Equal(t, http.StatusCreated, status, string(body))

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))

	status, body = request(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/definitions", map[string]any{
		"nodes": []map[string]any{
			{"node_type": "START", "node_name": "Start"},
			{"node_id": "manager", "node_type": "SINGLE", "node_name": "Manager", "operator_id": "m1"},
			{"node_type": "END", "node_name": "End"},
		},
		"application_modes": []string{"SELF"},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = request(t, app, http.MethodPost, "/instances", map[string]any{
		"workflow_id": workflow.ID,
		"apply_mode":  "SELF",
		"applicant":   "alice",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var instance models.Instance
	require.NoError(t, json.Unmarshal(body, &instance))

	select {
	case event := <-received:
		assert.Equal(t, instance.ID, event.InstanceID)
		assert.Equal(t, workflow.ID, event.WorkflowID)
		assert.Equal(t, models.ActionApply, event.Action)
		assert.Equal(t, "manager", event.ToNodeID)
		assert.Equal(t, models.InstanceStatusProcessing, event.Status)
		assert.Equal(t, []string{"m1"}, event.PendingOperatorIDs)
	case <-time.After(5 * time.Second):
		t.Fatal("instance notification was not delivered")
	}
}
