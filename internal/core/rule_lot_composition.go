package core

import (
	"context"
	"fmt"
	"math"

	"agritrace/pkg/domain"
)

// LotCompositionRule validates lot creation against the snapshot: the member
// set must be non-empty, each member batch must exist and be absorbed by this
// lot, and the derived totals must match the member batches exactly.
func LotCompositionRule() domain.Rule {
	return lotCompositionRule{}
}

type lotCompositionRule struct{}

func (lotCompositionRule) Name() string { return "lot_composition" }

func (lotCompositionRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityLot || change.Action != domain.ActionCreate {
			continue
		}
		lot, ok := decodeChangePayload[domain.Lot](change.After)
		if !ok {
			continue
		}
		if len(lot.BatchIDs) == 0 {
			res.Violations = append(res.Violations, violation(lot.ID, "lot has no member batches"))
			continue
		}

		var totalQuantity, priceSum float64
		complete := true
		for _, batchID := range lot.BatchIDs {
			batch, found := view.FindBatch(batchID)
			if !found {
				res.Violations = append(res.Violations, violation(lot.ID, fmt.Sprintf("member batch %s does not exist", batchID)))
				complete = false
				continue
			}
			if batch.Status != domain.BatchStatusSold || batch.LotID == nil || *batch.LotID != lot.ID {
				res.Violations = append(res.Violations, violation(lot.ID, fmt.Sprintf("member batch %s was not absorbed by lot %s", batchID, lot.ID)))
				complete = false
				continue
			}
			totalQuantity += batch.Quantity
			priceSum += batch.ExpectedUnitPrice
		}
		if !complete {
			continue
		}

		if !floatsEqual(lot.TotalQuantity, totalQuantity) {
			res.Violations = append(res.Violations, violation(lot.ID, fmt.Sprintf("total quantity %g does not match member sum %g", lot.TotalQuantity, totalQuantity)))
		}
		average := math.Round(priceSum/float64(len(lot.BatchIDs))*100) / 100
		if !floatsEqual(lot.AverageUnitPrice, average) {
			res.Violations = append(res.Violations, violation(lot.ID, fmt.Sprintf("average unit price %g does not match member average %g", lot.AverageUnitPrice, average)))
		}
	}
	return res, nil
}

func violation(lotID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "lot_composition",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityLot,
		EntityID: lotID,
	}
}

func floatsEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
