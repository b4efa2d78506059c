package core

import (
	"context"

	"agritrace/pkg/domain"
)

// ChainLinkRule re-verifies the ledger's hash linkage whenever a transaction
// touched it. A break can only come from a store defect; failing the commit
// keeps a corrupted chain from ever becoming visible.
func ChainLinkRule() domain.Rule {
	return chainLinkRule{}
}

type chainLinkRule struct{}

func (chainLinkRule) Name() string { return "chain_link" }

func (chainLinkRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	appended := false
	for _, change := range changes {
		if change.Entity == domain.EntityTransaction && change.Action == domain.ActionAppend {
			appended = true
			break
		}
	}
	res := domain.Result{}
	if !appended {
		return res, nil
	}
	if err := domain.VerifyChain(view.LedgerAll()); err != nil {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "chain_link",
			Severity: domain.SeverityBlock,
			Message:  err.Error(),
			Entity:   domain.EntityTransaction,
		})
	}
	return res, nil
}
