package nbdb

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dvloznov/bank-sync/internal/bank"
)

type rawAuthn struct {
	Status string `json:"status"`
}

// parseAuthn reports whether the sign in still needs a one-time code.
func parseAuthn(data []byte) (bool, error) {
	var raw rawAuthn
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("parse authn response: %w", err)
	}
	return raw.Status == "MFA_REQUIRED", nil
}

type rawAccountSummary struct {
	AcctNo       string `json:"acctNo"`
	AcctTypeDesc string `json:"acctTypeDesc"`
	Evaluation   struct {
		CAD struct {
			Total float64 `json:"total"`
		} `json:"CAD"`
	} `json:"accountSummaryEvalByCurrency"`
}

type rawSummary struct {
	Data struct {
		PortfolioSummaryList []struct {
			AccountSummaries []rawAccountSummary `json:"accountSummaries"`
		} `json:"portfolioSummaryList"`
	} `json:"data"`
}

// parseSummary projects the first portfolio's account summaries. Brokerage
// accounts carry a balance only; their trades never reach the ledger as
// transactions.
func parseSummary(data []byte, namespace uuid.UUID) ([]bank.Account, error) {
	var raw rawSummary
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse portfolio summary: %w", err)
	}
	if len(raw.Data.PortfolioSummaryList) == 0 {
		return nil, fmt.Errorf("parse portfolio summary: no portfolios")
	}

	summaries := raw.Data.PortfolioSummaryList[0].AccountSummaries
	accounts := make([]bank.Account, 0, len(summaries))
	for _, summary := range summaries {
		accounts = append(accounts, bank.Account{
			ID:      bank.AccountID(namespace, summary.AcctNo),
			Name:    summary.AcctTypeDesc,
			Balance: summary.Evaluation.CAD.Total,
		})
	}
	return accounts, nil
}
