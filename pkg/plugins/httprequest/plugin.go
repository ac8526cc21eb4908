// Package httprequest provides a plugin that calls an HTTP endpoint when a Robot node is entered.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/concord/pkg/plugins"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/dukex/concord/pkg/template"
)

const Name = "httprequest"

// Config defines the configuration read from the node.
type Config struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout int
	Retries RetryConfig
}

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	Attempts int
	Delay    int // milliseconds
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Plugin performs the configured request.
type Plugin struct {
	client *http.Client
}

// New creates the plugin. A nil client uses a client built per request from
// the configured timeout.
func New(client *http.Client) protocol.Plugin {
	return &Plugin{client: client}
}

func (p *Plugin) Name() string {
	return Name
}

func (p *Plugin) Description() string {
	return "Calls an HTTP endpoint with templated URL, headers and body"
}

func (p *Plugin) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Endpoint to call. Supports templating with instance data.",
				"examples":    []string{"https://erp.example.com/expenses/{{.instance.id}}/approved"},
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"default": "GET",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body":    map[string]any{"type": "string"},
			"timeout": map[string]any{"type": "number", "minimum": 1, "default": 30},
			"retries": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "number", "minimum": 1},
					"delay":    map[string]any{"type": "number", "minimum": 0},
				},
			},
		},
		"required": []string{"url"},
	}
}

// ParseConfig reads the plugin section of a node configuration.
func ParseConfig(config map[string]any) (Config, error) {
	parsed := Config{
		Method:  http.MethodGet,
		Headers: make(map[string]string),
		Timeout: 30,
		Retries: RetryConfig{Attempts: 1},
	}

	url, ok := config["url"].(string)
	if !ok {
		return parsed, errors.New("missing required field 'url'")
	}

	parsed.URL = url

	if method, ok := config["method"].(string); ok {
		parsed.Method = strings.ToUpper(method)
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if strVal, ok := v.(string); ok {
				parsed.Headers[k] = strVal
			}
		}
	}

	if body, ok := config["body"].(string); ok {
		parsed.Body = body
	}

	if timeout, ok := config["timeout"].(float64); ok {
		parsed.Timeout = int(timeout)
	}

	if retries, ok := config["retries"].(map[string]any); ok {
		if attempts, ok := retries["attempts"].(float64); ok && attempts >= 1 {
			parsed.Retries.Attempts = int(attempts)
		}

		if delay, ok := retries["delay"].(float64); ok {
			parsed.Retries.Delay = int(delay)
		}
	}

	return parsed, nil
}

func (p *Plugin) Handle(ctx context.Context, call protocol.PluginCall) (any, error) {
	section, err := plugins.Section(call.Node, Name)
	if err != nil {
		return nil, err
	}

	config, err := ParseConfig(section)
	if err != nil {
		return nil, err
	}

	url, err := renderString(config.URL, call)
	if err != nil {
		return nil, fmt.Errorf("failed to render URL template: %w", err)
	}

	var body string
	if config.Body != "" {
		rendered, err := template.RenderWithCall(config.Body, call)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		body, err = encodeBody(rendered)
		if err != nil {
			return nil, err
		}
	}

	headers := make(map[string]string, len(config.Headers))

	for key, value := range config.Headers {
		rendered, err := renderString(value, call)
		if err != nil {
			rendered = value
		}

		headers[key] = rendered
	}

	var lastErr error

	for attempt := 1; attempt <= config.Retries.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(config.Retries.Delay) * time.Millisecond):
			}
		}

		result, err := p.perform(ctx, config, url, body, headers)
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Client errors are not retried.
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
			break
		}
	}

	return nil, fmt.Errorf("HTTP request failed after %d attempts: %w", config.Retries.Attempts, lastErr)
}

func renderString(input string, call protocol.PluginCall) (string, error) {
	rendered, err := template.RenderWithCall(input, call)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%v", rendered), nil
}

// encodeBody turns a decoded template result back into request text.
func encodeBody(rendered any) (string, error) {
	if text, ok := rendered.(string); ok {
		return text, nil
	}

	encoded, err := json.Marshal(rendered)
	if err != nil {
		return "", fmt.Errorf("failed to encode body: %w", err)
	}

	return string(encoded), nil
}

func (p *Plugin) perform(ctx context.Context, config Config, url, body string, headers map[string]string) (map[string]any, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, config.Method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := p.client
	if client == nil {
		client = &http.Client{Timeout: time.Duration(config.Timeout) * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, nil
}
