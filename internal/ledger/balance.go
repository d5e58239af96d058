package ledger

import (
	"context"

	"github.com/mmynk/duoledger/internal/calculator"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// PairBalance is the caller's standing towards one partner.
type PairBalance struct {
	PartnerUID string
	Balances   []calculator.Balance
	Debts      []calculator.DebtEdge
	// Unsettled counts the live transactions an aggregate settlement would cover.
	Unsettled int
}

// Balance sums the unsettled transactions between the caller and a partner,
// per currency. Pending settlement requests are reported but not deducted.
// The result is a snapshot; it is not read in a transaction.
func (l *Ledger) Balance(ctx context.Context, callerUID, partnerUID string) (*PairBalance, error) {
	if err := requireCaller(callerUID); err != nil {
		return nil, err
	}
	if err := requirePartners(ctx, l.store, callerUID, partnerUID); err != nil {
		return nil, classify(err)
	}

	unsettled, err := unsettledBetween(ctx, l.store, callerUID, partnerUID)
	if err != nil {
		return nil, classify(err)
	}
	expenses := make([]calculator.Expense, 0, len(unsettled))
	for _, t := range unsettled {
		expenses = append(expenses, calculator.Expense{
			PayerUID:    t.SenderUID,
			ReceiverUID: t.ReceiverUID,
			Amount:      t.Amount,
			Currency:    t.Currency,
		})
	}

	pending, err := pendingSettlements(ctx, l.store, callerUID, partnerUID)
	if err != nil {
		return nil, classify(err)
	}

	balances, err := calculator.CalculatePairBalances(callerUID, partnerUID, expenses, pending)
	if err != nil {
		return nil, classify(err)
	}
	return &PairBalance{
		PartnerUID: partnerUID,
		Balances:   balances,
		Debts:      calculator.Debts(callerUID, partnerUID, balances),
		Unsettled:  len(unsettled),
	}, nil
}

func pendingSettlements(ctx context.Context, r storage.Reader, a, b string) ([]calculator.SettlementForBalance, error) {
	var out []calculator.SettlementForBalance
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		docs, err := r.Query(ctx, storage.Where(storage.CollectionSettlementRequests, models.FieldSenderUID, pair[0]).
			And(models.FieldReceiverUID, pair[1]).
			And(models.FieldStatus, string(models.StatusPending)))
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			req, err := models.SettlementRequestFromDoc(doc)
			if err != nil {
				return nil, err
			}
			out = append(out, calculator.SettlementForBalance{
				FromUID:  req.SenderUID,
				ToUID:    req.ReceiverUID,
				Amount:   req.Amount,
				Currency: req.Currency,
			})
		}
	}
	return out, nil
}
