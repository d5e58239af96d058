package service

import (
	"github.com/mmynk/duoledger/internal/ledger"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/pkg/api"
)

func toAPITransaction(t *models.Transaction) *api.Transaction {
	return &api.Transaction{
		ID:           t.ID,
		SenderUID:    t.SenderUID,
		ReceiverUID:  t.ReceiverUID,
		Amount:       t.Amount.String(),
		Currency:     t.Currency,
		Note:         t.Note,
		AddedByUID:   t.AddedByUID,
		Timestamp:    t.Timestamp.UnixMilli(),
		IsDeleted:    t.IsDeleted,
		DeletedBy:    t.DeletedBy,
		IsSettled:    t.IsSettled,
		SettlementID: t.SettlementID,
	}
}

func toAPISettlement(s *models.Settlement) *api.Settlement {
	ids := s.TransactionIDs
	if ids == nil {
		ids = []string{}
	}
	return &api.Settlement{
		ID:             s.ID,
		StartDate:      s.StartDate.UnixMilli(),
		EndDate:        s.EndDate.UnixMilli(),
		TotalAmount:    s.TotalAmount.String(),
		PayerUID:       s.PayerUID,
		ReceiverUID:    s.ReceiverUID,
		TransactionIDs: ids,
		Timestamp:      s.Timestamp.UnixMilli(),
		SettledByUID:   s.SettledByUID,
	}
}

func toAPISettlementRequest(r *models.SettlementRequest) *api.SettlementRequest {
	return &api.SettlementRequest{
		ID:            r.ID,
		SenderUID:     r.SenderUID,
		ReceiverUID:   r.ReceiverUID,
		Amount:        r.Amount.String(),
		Currency:      r.Currency,
		TransactionID: r.TransactionID,
		Status:        r.Status.String(),
		CreatedAt:     r.CreatedAt.UnixMilli(),
	}
}

func toAPIPartnerRequest(p *models.PartnerRequest) *api.PartnerRequest {
	return &api.PartnerRequest{
		ID:        p.ID,
		FromUID:   p.FromUID,
		ToUID:     p.ToUID,
		Status:    p.Status.String(),
		CreatedAt: p.CreatedAt.UnixMilli(),
	}
}

func toAPIBalance(b *ledger.PairBalance) *api.GetBalanceResponse {
	out := &api.GetBalanceResponse{
		PartnerUID:     b.PartnerUID,
		Balances:       make([]*api.Balance, 0, len(b.Balances)),
		Debts:          make([]*api.Debt, 0, len(b.Debts)),
		UnsettledCount: b.Unsettled,
	}
	for _, bal := range b.Balances {
		out.Balances = append(out.Balances, &api.Balance{
			Currency:  bal.Currency,
			TotalPaid: bal.TotalPaid.String(),
			TotalOwed: bal.TotalOwed.String(),
			Net:       bal.NetBalance.String(),
			Pending:   bal.Pending.String(),
		})
	}
	for _, d := range b.Debts {
		out.Debts = append(out.Debts, &api.Debt{
			FromUID:  d.From,
			ToUID:    d.To,
			Amount:   d.Amount.String(),
			Currency: d.Currency,
		})
	}
	return out
}
