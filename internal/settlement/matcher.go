package settlement

import (
	"sort"

	"github.com/shopspring/decimal"
)

type position struct {
	id     string
	amount decimal.Decimal
}

// sortPositions orders by amount descending, then participant id ascending so
// that tied balances always produce the same edges.
func sortPositions(ps []position) {
	sort.Slice(ps, func(i, j int) bool {
		if c := ps[i].amount.Cmp(ps[j].amount); c != 0 {
			return c > 0
		}
		return ps[i].id < ps[j].id
	})
}

// Match greedily pairs the largest debtor with the largest creditor until one
// side runs out. It emits at most k-1 edges for k participants with a nonzero
// balance. If the books do not balance, the leftover is reported in the
// returned warning instead of being dropped.
func Match(balances Balances) ([]Edge, *ConsistencyWarning) {
	var creditors, debtors []position
	credits, debits := decimal.Zero, decimal.Zero
	for id, b := range balances {
		switch {
		case b.GreaterThan(Epsilon):
			creditors = append(creditors, position{id: id, amount: b})
			credits = credits.Add(b)
		case b.LessThan(Epsilon.Neg()):
			debtors = append(debtors, position{id: id, amount: b.Neg()})
			debits = debits.Add(b.Neg())
		}
	}
	sortPositions(creditors)
	sortPositions(debtors)

	var edges []Edge
	i, j := 0, 0
	for i < len(creditors) && j < len(debtors) {
		c := &creditors[i]
		d := &debtors[j]
		amt := decimal.Min(c.amount, d.amount)
		if rounded := amt.Round(2); rounded.GreaterThan(Epsilon) {
			edges = append(edges, Edge{From: d.id, To: c.id, Amount: rounded})
		}
		c.amount = c.amount.Sub(amt)
		d.amount = d.amount.Sub(amt)
		if c.amount.LessThanOrEqual(Epsilon) {
			i++
		}
		if d.amount.LessThanOrEqual(Epsilon) {
			j++
		}
	}

	unmatched := make(map[string]decimal.Decimal)
	residual := decimal.Zero
	for _, rest := range [][]position{creditors[i:], debtors[j:]} {
		for _, p := range rest {
			if p.amount.GreaterThan(Epsilon) {
				unmatched[p.id] = p.amount
				residual = residual.Add(p.amount)
			}
		}
	}
	residual = decimal.Max(residual, credits.Sub(debits).Abs())
	if residual.GreaterThan(Epsilon) {
		return edges, &ConsistencyWarning{
			Credits:   credits,
			Debits:    debits,
			Residual:  residual,
			Unmatched: unmatched,
		}
	}
	return edges, nil
}
