package operators

import (
	"fmt"
	"slices"

	"github.com/dukex/concord/pkg/models"
)

// Hook returns the actions an operator may not perform on an instance.
type Hook func(definition *models.Definition, instance *models.Instance, operatorID string) []models.Action

// Restrictions dispatches to hooks by instance status.
type Restrictions struct {
	hooks map[models.InstanceStatus][]Hook
}

// NewRestrictions creates an empty restriction set; every action is allowed.
func NewRestrictions() *Restrictions {
	return &Restrictions{hooks: make(map[models.InstanceStatus][]Hook)}
}

// Register adds a hook for the given status.
func (r *Restrictions) Register(status models.InstanceStatus, hook Hook) *Restrictions {
	r.hooks[status] = append(r.hooks[status], hook)

	return r
}

// Merge returns a restriction set running the hooks of both r and other.
func (r *Restrictions) Merge(other *Restrictions) *Restrictions {
	merged := NewRestrictions()

	for _, source := range []*Restrictions{r, other} {
		if source == nil {
			continue
		}

		for status, hooks := range source.hooks {
			merged.hooks[status] = append(merged.hooks[status], hooks...)
		}
	}

	return merged
}

// RemovedActions returns the union of what the hooks for the instance's status remove.
func (r *Restrictions) RemovedActions(definition *models.Definition, instance *models.Instance, operatorID string) []models.Action {
	removed := make(map[models.Action]bool)

	if r != nil {
		for _, hook := range r.hooks[instance.Status] {
			for _, action := range hook(definition, instance, operatorID) {
				removed[action] = true
			}
		}
	}

	out := make([]models.Action, 0, len(removed))

	for _, action := range models.AllActions {
		if removed[action] {
			out = append(out, action)
		}
	}

	return out
}

// AllowedActions subtracts the removed actions from every known action.
func (r *Restrictions) AllowedActions(definition *models.Definition, instance *models.Instance, operatorID string) []models.Action {
	removed := r.RemovedActions(definition, instance, operatorID)

	allowed := make([]models.Action, 0, len(models.AllActions))

	for _, action := range models.AllActions {
		if !slices.Contains(removed, action) {
			allowed = append(allowed, action)
		}
	}

	return allowed
}

func except(keep ...models.Action) []models.Action {
	out := make([]models.Action, 0, len(models.AllActions))

	for _, action := range models.AllActions {
		if !slices.Contains(keep, action) {
			out = append(out, action)
		}
	}

	return out
}

func isApplicant(instance *models.Instance, operatorID string) bool {
	return operatorID != "" && (operatorID == instance.Applicant || operatorID == instance.ProxyApplicant)
}

// DefaultRestrictions hides actions that make no sense for the operator in
// the instance's current state.
func DefaultRestrictions() *Restrictions {
	return NewRestrictions().
		Register(models.InstanceStatusNew, func(_ *models.Definition, _ *models.Instance, _ string) []models.Action {
			return except(models.ActionApply, models.ActionSave, models.ActionCancel, models.ActionWithdraw,
				models.ActionRelocate, models.ActionRebinding)
		}).
		Register(models.InstanceStatusProcessing, func(_ *models.Definition, instance *models.Instance, operatorID string) []models.Action {
			removed := []models.Action{models.ActionApply}

			if !instance.IsExpandedOperator(operatorID) {
				removed = append(removed, models.ActionNext, models.ActionBack, models.ActionReject, models.ActionSave)
			} else if status, ok := instance.ParallelApproval[operatorID]; ok && status.Approved {
				removed = append(removed, models.ActionNext)
			}

			if !isApplicant(instance, operatorID) {
				removed = append(removed, models.ActionCancel, models.ActionWithdraw)
			}

			if instance.PreNodeID == "" {
				removed = append(removed, models.ActionRetrieve)
			}

			return removed
		}).
		Register(models.InstanceStatusRejected, func(_ *models.Definition, instance *models.Instance, operatorID string) []models.Action {
			if isApplicant(instance, operatorID) {
				return except(models.ActionApply, models.ActionWithdraw, models.ActionRetrieve,
					models.ActionRelocate, models.ActionRebinding)
			}

			return except(models.ActionRetrieve, models.ActionRelocate, models.ActionRebinding)
		}).
		Register(models.InstanceStatusCanceled, func(_ *models.Definition, instance *models.Instance, operatorID string) []models.Action {
			if isApplicant(instance, operatorID) {
				return except(models.ActionWithdraw, models.ActionRetrieve, models.ActionRelocate, models.ActionRebinding)
			}

			return except(models.ActionRetrieve, models.ActionRelocate, models.ActionRebinding)
		}).
		Register(models.InstanceStatusApproved, closedHook).
		Register(models.InstanceStatusFinished, closedHook)
}

func closedHook(_ *models.Definition, _ *models.Instance, _ string) []models.Action {
	return except(models.ActionRetrieve, models.ActionRelocate, models.ActionRebinding)
}

// Condition exempts an operator from a rule.
type Condition string

const (
	UnlessApplicant Condition = "applicant" // The applicant or proxy applicant
	UnlessOperator  Condition = "operator"  // A member of the expanded approver set
	UnlessNone      Condition = ""
)

// Rule is a static restriction, typically read from the engine configuration.
type Rule struct {
	Status models.InstanceStatus `yaml:"status" json:"status"`
	Remove []models.Action       `yaml:"remove" json:"remove"`
	Unless Condition             `yaml:"unless" json:"unless,omitempty"`
}

// Validate checks the rule names a known status, known actions and a known condition.
func (r Rule) Validate() error {
	if !slices.Contains(models.AllInstanceStatuses, r.Status) {
		return fmt.Errorf("unknown instance status %q", r.Status)
	}

	for _, action := range r.Remove {
		if !slices.Contains(models.AllActions, action) {
			return fmt.Errorf("unknown action %q", action)
		}
	}

	switch r.Unless {
	case UnlessApplicant, UnlessOperator, UnlessNone:
		return nil
	default:
		return fmt.Errorf("unknown rule condition %q", r.Unless)
	}
}

// RuleRestrictions builds hooks from static rules.
func RuleRestrictions(rules []Rule) (*Restrictions, error) {
	restrictions := NewRestrictions()

	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("restriction rule %d: %w", i, err)
		}

		restrictions.Register(rule.Status, func(_ *models.Definition, instance *models.Instance, operatorID string) []models.Action {
			switch rule.Unless {
			case UnlessApplicant:
				if isApplicant(instance, operatorID) {
					return nil
				}
			case UnlessOperator:
				if instance.IsExpandedOperator(operatorID) {
					return nil
				}
			}

			return rule.Remove
		})
	}

	return restrictions, nil
}
