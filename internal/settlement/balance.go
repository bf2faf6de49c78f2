package settlement

import "github.com/shopspring/decimal"

// CalculateBalances derives each participant's net position. Positive means
// the participant is owed money. Resolved edges are money that already moved,
// so they are folded back in: the debtor is credited and the creditor debited.
func CalculateBalances(expenses []Expense, resolved []Edge) Balances {
	balances := make(Balances)
	add := func(id string, amount decimal.Decimal) {
		balances[id] = balances[id].Add(amount)
	}

	for _, e := range expenses {
		add(e.Payer, e.TotalAmount)
		shares := e.Shares()
		for i, p := range e.Payees {
			add(p.ID, shares[i].Neg())
		}
	}
	for _, edge := range resolved {
		add(edge.From, edge.Amount)
		add(edge.To, edge.Amount.Neg())
	}

	for id, v := range balances {
		balances[id] = v.Round(2)
	}
	return balances
}
