package calculator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Expense represents an unsettled expense with the minimal information needed
// for balance calculations: ReceiverUID owes PayerUID the Amount.
type Expense struct {
	PayerUID    string
	ReceiverUID string
	Amount      decimal.Decimal
	Currency    string
}

// SettlementForBalance represents a pending settlement that has not been
// confirmed yet.
type SettlementForBalance struct {
	FromUID  string // Who pays (debtor settling up)
	ToUID    string // Who receives (creditor being paid)
	Amount   decimal.Decimal
	Currency string
}

// Balance is one user's position towards a partner in one currency.
type Balance struct {
	Currency   string
	TotalPaid  decimal.Decimal // Paid by the user on the partner's behalf
	TotalOwed  decimal.Decimal // Paid by the partner on the user's behalf
	NetBalance decimal.Decimal // Positive = partner owes the user, negative = user owes
	Pending    decimal.Decimal // Net of unconfirmed settlements in the user's favour
}

// DebtEdge represents a debt from one person to another.
type DebtEdge struct {
	From     string // Person who owes
	To       string // Person who is owed
	Amount   decimal.Decimal
	Currency string
}

// CalculatePairBalances computes uid's balances towards partner, one entry per
// currency, sorted by currency.
//
// Algorithm:
// - For each expense: the payer contributed +amount, the receiver owes amount
// - Net = total paid - total owed
// - Pending settlements are reported separately and never change Net
func CalculatePairBalances(uid, partner string, expenses []Expense, pending []SettlementForBalance) ([]Balance, error) {
	balances := make(map[string]*Balance)
	get := func(currency string) *Balance {
		b, ok := balances[currency]
		if !ok {
			b = &Balance{Currency: currency}
			balances[currency] = b
		}
		return b
	}

	for _, e := range expenses {
		if !e.Amount.IsPositive() {
			return nil, fmt.Errorf("expense of %s has non-positive amount %s", e.Currency, e.Amount)
		}
		switch {
		case e.PayerUID == uid && e.ReceiverUID == partner:
			get(e.Currency).TotalPaid = get(e.Currency).TotalPaid.Add(e.Amount)
		case e.PayerUID == partner && e.ReceiverUID == uid:
			get(e.Currency).TotalOwed = get(e.Currency).TotalOwed.Add(e.Amount)
		default:
			return nil, fmt.Errorf("expense between %s and %s is not between %s and %s", e.PayerUID, e.ReceiverUID, uid, partner)
		}
	}

	for _, s := range pending {
		switch {
		case s.FromUID == partner && s.ToUID == uid:
			get(s.Currency).Pending = get(s.Currency).Pending.Add(s.Amount)
		case s.FromUID == uid && s.ToUID == partner:
			get(s.Currency).Pending = get(s.Currency).Pending.Sub(s.Amount)
		default:
			return nil, fmt.Errorf("settlement from %s to %s is not between %s and %s", s.FromUID, s.ToUID, uid, partner)
		}
	}

	out := make([]Balance, 0, len(balances))
	for _, b := range balances {
		b.NetBalance = b.TotalPaid.Sub(b.TotalOwed)
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Balance) int {
		return strings.Compare(a.Currency, b.Currency)
	})
	return out, nil
}

// Debts turns uid's balances towards partner into the payments that would
// clear them, one per currency with a non-zero net.
func Debts(uid, partner string, balances []Balance) []DebtEdge {
	var edges []DebtEdge
	for _, b := range balances {
		switch b.NetBalance.Sign() {
		case 1:
			edges = append(edges, DebtEdge{From: partner, To: uid, Amount: b.NetBalance, Currency: b.Currency})
		case -1:
			edges = append(edges, DebtEdge{From: uid, To: partner, Amount: b.NetBalance.Neg(), Currency: b.Currency})
		}
	}
	return edges
}
