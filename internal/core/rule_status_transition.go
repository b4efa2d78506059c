package core

import (
	"context"
	"encoding/json"
	"fmt"

	"agritrace/pkg/domain"
)

// StatusTransitionRule blocks illegal state transitions on stateful entities.
// It is the last line of defense behind the transition engine's own checks:
// any update that leaves a terminal state or follows an undefined edge is a
// blocking violation.
func StatusTransitionRule() domain.Rule {
	return statusTransitionRule{}
}

type statusTransitionRule struct{}

type statusMachine struct {
	entity    domain.EntityType
	label     string
	terminal  map[string]struct{}
	valid     map[string]struct{}
	edges     map[string]map[string]struct{}
	extractor func(payload domain.ChangePayload) (id string, state string, ok bool)
}

var statusMachines = map[domain.EntityType]statusMachine{
	domain.EntityBatch: {
		entity:   domain.EntityBatch,
		label:    "batch",
		terminal: toSet(string(domain.BatchStatusRejected), string(domain.BatchStatusSold)),
		valid: toSet(
			string(domain.BatchStatusPending),
			string(domain.BatchStatusApproved),
			string(domain.BatchStatusRejected),
			string(domain.BatchStatusSold),
		),
		edges: map[string]map[string]struct{}{
			string(domain.BatchStatusPending):  toSet(string(domain.BatchStatusApproved), string(domain.BatchStatusRejected)),
			string(domain.BatchStatusApproved): toSet(string(domain.BatchStatusSold)),
		},
		extractor: func(payload domain.ChangePayload) (string, string, bool) {
			batch, ok := decodeChangePayload[domain.Batch](payload)
			if !ok {
				return "", "", false
			}
			return batch.ID, string(batch.Status), true
		},
	},
	domain.EntityLot: {
		entity:   domain.EntityLot,
		label:    "lot",
		terminal: toSet(string(domain.LotStatusSold)),
		valid: toSet(
			string(domain.LotStatusAvailable),
			string(domain.LotStatusSold),
		),
		edges: map[string]map[string]struct{}{
			string(domain.LotStatusAvailable): toSet(string(domain.LotStatusSold)),
		},
		extractor: func(payload domain.ChangePayload) (string, string, bool) {
			lot, ok := decodeChangePayload[domain.Lot](payload)
			if !ok {
				return "", "", false
			}
			return lot.ID, string(lot.Status), true
		},
	},
}

func (statusTransitionRule) Name() string { return "status_transition" }

func (statusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		machine, ok := statusMachines[change.Entity]
		if !ok {
			continue
		}

		afterID, newState, ok := machine.extractor(change.After)
		if ok {
			if _, valid := machine.valid[newState]; !valid {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "status_transition",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("%s %s is set to invalid state %s", machine.label, afterID, newState),
					Entity:   machine.entity,
					EntityID: afterID,
				})
				continue
			}
		}

		beforeID, beforeState, ok := machine.extractor(change.Before)
		if !ok {
			continue
		}
		afterID, afterState, ok := machine.extractor(change.After)
		if !ok {
			continue
		}
		if afterState == beforeState {
			continue
		}
		if _, terminal := machine.terminal[beforeState]; terminal {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "status_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("cannot move %s %s from terminal state %s to %s", machine.label, beforeID, beforeState, afterState),
				Entity:   machine.entity,
				EntityID: afterID,
			})
			continue
		}
		if _, allowed := machine.edges[beforeState][afterState]; !allowed {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "status_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("no transition from %s to %s for %s %s", beforeState, afterState, machine.label, beforeID),
				Entity:   machine.entity,
				EntityID: afterID,
			})
		}
	}
	return res, nil
}

func decodeChangePayload[T any](payload domain.ChangePayload) (T, bool) {
	var value T
	raw := payload.Raw()
	if raw == nil {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false
	}
	return value, true
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
