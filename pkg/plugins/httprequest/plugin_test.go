package httprequest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(config map[string]any) protocol.PluginCall {
	return protocol.PluginCall{
		Instance: &models.Instance{ID: "inst-1", Applicant: "alice"},
		Node:     &models.Node{ID: "bot", Type: models.NodeTypeRobot, Configuration: map[string]any{Name: config}},
		Param:    map[string]any{"amount": 120},
	}
}

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig(map[string]any{
		"url":     "http://example.com",
		"method":  "post",
		"headers": map[string]any{"X-Team": "finance", "X-Ignored": 1},
		"timeout": 5.0,
		"retries": map[string]any{"attempts": 3.0, "delay": 10.0},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, config.Method)
	assert.Equal(t, map[string]string{"X-Team": "finance"}, config.Headers)
	assert.Equal(t, 5, config.Timeout)
	assert.Equal(t, RetryConfig{Attempts: 3, Delay: 10}, config.Retries)

	_, err = ParseConfig(map[string]any{})
	assert.EqualError(t, err, "missing required field 'url'")
}

func TestPlugin_Handle(t *testing.T) {
	var received string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = r.Method + " " + r.URL.Path + " " + r.Header.Get("X-Applicant") + " " + string(body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted": true}`))
	}))
	defer server.Close()

	result, err := New(server.Client()).Handle(context.Background(), call(map[string]any{
		"url":     server.URL + "/expenses/{{.instance.id}}",
		"method":  "POST",
		"headers": map[string]any{"X-Applicant": "{{.instance.applicant}}"},
		"body":    `{"amount": {{.param.amount}}}`,
	}))
	require.NoError(t, err)

	assert.Equal(t, `POST /expenses/inst-1 alice {"amount":120}`, received)

	output, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, output["status_code"])
	assert.Equal(t, map[string]any{"accepted": true}, output["json"])
}

func TestPlugin_Handle_Retries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "server errors are retried", status: http.StatusBadGateway, wantCalls: 3},
		{name: "client errors are not", status: http.StatusNotFound, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := New(server.Client()).Handle(context.Background(), call(map[string]any{
				"url":     server.URL,
				"retries": map[string]any{"attempts": 3.0, "delay": 1.0},
			}))

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}
