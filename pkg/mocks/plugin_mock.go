package mocks

import (
	"context"

	"github.com/dukex/concord/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockPlugin is a mock implementation of protocol.Plugin interface.
type MockPlugin struct {
	mock.Mock
}

func (m *MockPlugin) Name() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockPlugin) Description() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockPlugin) Schema() map[string]any {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(map[string]any)
}

func (m *MockPlugin) Handle(ctx context.Context, call protocol.PluginCall) (any, error) {
	args := m.Called(ctx, call)

	return args.Get(0), args.Error(1)
}

// PluginMap is a fixed protocol.PluginLookup.
type PluginMap map[string]protocol.Plugin

func (p PluginMap) Plugin(name string) (protocol.Plugin, bool) {
	plugin, ok := p[name]

	return plugin, ok
}
