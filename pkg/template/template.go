// Package template renders plugin configuration against the instance being moved.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/concord/pkg/protocol"
)

// CallData builds the data a plugin template sees.
func CallData(call protocol.PluginCall) map[string]any {
	data := map[string]any{
		"param": call.Param,
		"env":   getEnvVars(),
	}

	if instance := call.Instance; instance != nil {
		data["instance"] = map[string]any{
			"id":              instance.ID,
			"workflow_id":     instance.WorkflowID,
			"definition_id":   instance.DefinitionID,
			"node_id":         instance.NodeID,
			"pre_node_id":     instance.PreNodeID,
			"status":          string(instance.Status),
			"apply_mode":      string(instance.ApplyMode),
			"applicant":       instance.Applicant,
			"proxy_applicant": instance.ProxyApplicant,
		}
	}

	if node := call.Node; node != nil {
		data["node"] = map[string]any{
			"id":            node.ID,
			"name":          node.Name,
			"type":          string(node.Type),
			"configuration": node.Configuration,
		}
	}

	return data
}

// RenderWithCall renders input against the data of a plugin call.
func RenderWithCall(input string, call protocol.PluginCall) (any, error) {
	return Render(input, CallData(call))
}

// Render executes a text/template and decodes the output into JSON, a
// number or a boolean when it looks like one.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("plugin").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)
				if _, err := rand.Read(num); err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			envMap[key] = value
		}
	}

	return envMap
}
