// Package operators resolves approvers and computes what an operator may do.
package operators

import (
	"context"

	"github.com/dukex/concord/pkg/models"
)

// Directory resolves raw operator and organization ids into concrete
// approvers and decides how approval ledgers are seeded.
type Directory interface {
	ExpandOperators(ctx context.Context, operatorIDs []string) ([]string, error)
	ExpandOrganizations(ctx context.Context, orgIDs []string) ([]string, error)

	// SeedParallelApproval builds the ledger of a node that was just entered.
	SeedParallelApproval(operatorIDs, orgIDs, expanded []string) map[string]models.ApprovalStatus

	// SeedRetrievalApproval builds the ledger of a node an operator retrieved back to.
	SeedRetrievalApproval(operatorIDs, orgIDs, expanded []string, operatorID string, resetAll bool) map[string]models.ApprovalStatus

	// ReconcileModifiedApproval adapts an existing ledger to a changed approver set.
	ReconcileModifiedApproval(existing map[string]models.ApprovalStatus, expanded []string) map[string]models.ApprovalStatus
}

// Expand unions both expansions into a sorted, de-duplicated set.
func Expand(ctx context.Context, directory Directory, operatorIDs, orgIDs []string) ([]string, error) {
	operators, err := directory.ExpandOperators(ctx, operatorIDs)
	if err != nil {
		return nil, err
	}

	members, err := directory.ExpandOrganizations(ctx, orgIDs)
	if err != nil {
		return nil, err
	}

	return models.UnionIDs(operators, members), nil
}

// DefaultDirectory treats operator ids as already concrete. Organizations
// listed in Organizations expand to their members, any other organization id
// is kept as is.
type DefaultDirectory struct {
	Organizations map[string][]string
}

// NewDefaultDirectory creates a directory with the given organization membership.
func NewDefaultDirectory(organizations map[string][]string) *DefaultDirectory {
	return &DefaultDirectory{Organizations: organizations}
}

func (d *DefaultDirectory) ExpandOperators(_ context.Context, operatorIDs []string) ([]string, error) {
	return models.UnionIDs(operatorIDs), nil
}

func (d *DefaultDirectory) ExpandOrganizations(_ context.Context, orgIDs []string) ([]string, error) {
	lists := make([][]string, 0, len(orgIDs))

	for _, orgID := range orgIDs {
		if members, ok := d.Organizations[orgID]; ok {
			lists = append(lists, members)

			continue
		}

		lists = append(lists, []string{orgID})
	}

	return models.UnionIDs(lists...), nil
}

func (d *DefaultDirectory) SeedParallelApproval(_, _, expanded []string) map[string]models.ApprovalStatus {
	return SeedParallelApproval(expanded)
}

func (d *DefaultDirectory) SeedRetrievalApproval(_, _, expanded []string, operatorID string, resetAll bool) map[string]models.ApprovalStatus {
	return SeedRetrievalApproval(expanded, operatorID, resetAll)
}

func (d *DefaultDirectory) ReconcileModifiedApproval(existing map[string]models.ApprovalStatus, expanded []string) map[string]models.ApprovalStatus {
	return ReconcileModifiedApproval(existing, expanded)
}

// SeedParallelApproval starts every expanded operator unapproved.
func SeedParallelApproval(expanded []string) map[string]models.ApprovalStatus {
	ledger := make(map[string]models.ApprovalStatus, len(expanded))

	for _, id := range expanded {
		if id == "" {
			continue
		}

		ledger[id] = models.ApprovalStatus{OperatorID: id}
	}

	return ledger
}

// SeedRetrievalApproval resets every entry when resetAll is set. Otherwise
// only the retrieving operator has to approve again.
func SeedRetrievalApproval(expanded []string, operatorID string, resetAll bool) map[string]models.ApprovalStatus {
	ledger := SeedParallelApproval(expanded)
	if resetAll {
		return ledger
	}

	for id := range ledger {
		ledger[id] = models.ApprovalStatus{OperatorID: id, Approved: id != operatorID}
	}

	return ledger
}

// ReconcileModifiedApproval keeps the state of approvers still expected,
// adds new ones unapproved and drops those no longer expected.
func ReconcileModifiedApproval(existing map[string]models.ApprovalStatus, expanded []string) map[string]models.ApprovalStatus {
	ledger := SeedParallelApproval(expanded)

	for id, status := range existing {
		if _, ok := ledger[id]; ok {
			ledger[id] = status
		}
	}

	return ledger
}
