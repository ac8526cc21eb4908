package mocks

import (
	"context"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of protocol.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, instance *models.Instance, action models.Action, payload protocol.Notification) error {
	args := m.Called(ctx, instance, action, payload)

	return args.Error(0)
}
