package mocks

import (
	"context"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/operators"
	"github.com/stretchr/testify/mock"
)

// MockDirectory is a mock implementation of operators.Directory interface.
// Only expansion is mocked; seeding uses the default policies.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ExpandOperators(ctx context.Context, operatorIDs []string) ([]string, error) {
	args := m.Called(ctx, operatorIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDirectory) ExpandOrganizations(ctx context.Context, orgIDs []string) ([]string, error) {
	args := m.Called(ctx, orgIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDirectory) SeedParallelApproval(_, _, expanded []string) map[string]models.ApprovalStatus {
	return operators.SeedParallelApproval(expanded)
}

func (m *MockDirectory) SeedRetrievalApproval(_, _, expanded []string, operatorID string, resetAll bool) map[string]models.ApprovalStatus {
	return operators.SeedRetrievalApproval(expanded, operatorID, resetAll)
}

func (m *MockDirectory) ReconcileModifiedApproval(existing map[string]models.ApprovalStatus, expanded []string) map[string]models.ApprovalStatus {
	return operators.ReconcileModifiedApproval(existing, expanded)
}
