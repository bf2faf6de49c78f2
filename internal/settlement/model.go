package settlement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Epsilon is the settlement tolerance. Amounts at or below it count as settled.
var Epsilon = decimal.New(1, -2)

type PayeeKind uint8

const (
	PayeeEqual PayeeKind = iota + 1
	PayeeWeighted
)

func (k PayeeKind) String() string {
	switch k {
	case PayeeEqual:
		return "equal"
	case PayeeWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Payee is one beneficiary of an expense. Build it with EqualSplitPayee or
// WeightedPayee; Amount is only meaningful for weighted payees.
type Payee struct {
	Kind   PayeeKind       `json:"-"`
	ID     string          `json:"id" validate:"required"`
	Amount decimal.Decimal `json:"-"`
}

func EqualSplitPayee(id string) Payee {
	return Payee{Kind: PayeeEqual, ID: id}
}

func WeightedPayee(id string, amount decimal.Decimal) Payee {
	return Payee{Kind: PayeeWeighted, ID: id, Amount: amount}
}

type weightedPayeeJSON struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// MarshalJSON writes equal-split payees as a bare id and weighted payees as
// an {"id","amount"} object.
func (p Payee) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PayeeEqual:
		return json.Marshal(p.ID)
	case PayeeWeighted:
		return json.Marshal(weightedPayeeJSON{ID: p.ID, Amount: p.Amount})
	default:
		return nil, fmt.Errorf("payee %q: unknown split kind %s", p.ID, p.Kind)
	}
}

func (p *Payee) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &ValidationError{Field: "payees", Reason: "empty payee"}
	}
	switch data[0] {
	case '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*p = EqualSplitPayee(id)
		return nil
	case '{':
		var w weightedPayeeJSON
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*p = WeightedPayee(w.ID, w.Amount)
		return nil
	default:
		return &ValidationError{Field: "payees", Reason: "payee must be an id or an {id, amount} object"}
	}
}

type Expense struct {
	ID          string          `json:"id"`
	Name        string          `json:"name" validate:"required,max=200"`
	Payer       string          `json:"payer" validate:"required"`
	Payees      []Payee         `json:"payees" validate:"required,min=1,dive"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Shares returns what each payee owes, aligned with e.Payees. Equal splits
// are cut in whole cents: every payee gets the floored share and the leftover
// cents go one each to the first payees, so the shares add up to TotalAmount
// exactly.
func (e Expense) Shares() []decimal.Decimal {
	shares := make([]decimal.Decimal, len(e.Payees))
	if len(e.Payees) == 0 {
		return shares
	}
	if e.Payees[0].Kind == PayeeWeighted {
		for i, p := range e.Payees {
			shares[i] = p.Amount
		}
		return shares
	}

	cents := e.TotalAmount.Shift(2)
	whole := cents.Floor()
	base, rem := whole.QuoRem(decimal.NewFromInt(int64(len(e.Payees))), 0)
	extra := rem.IntPart()
	for i := range e.Payees {
		share := base
		if int64(i) < extra {
			share = share.Add(decimal.NewFromInt(1))
		}
		shares[i] = share.Shift(-2)
	}
	// Totals with sub-cent digits keep the tail on the first payee.
	shares[0] = shares[0].Add(cents.Sub(whole).Shift(-2))
	return shares
}

// Edge is a directed obligation: From owes To the Amount.
type Edge struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"amount"`
	Resolved bool            `json:"resolved"`
}

func (e Edge) String() string {
	state := "pending"
	if e.Resolved {
		state = "resolved"
	}
	return fmt.Sprintf("%s->%s %s (%s)", e.From, e.To, e.Amount.StringFixed(2), state)
}

type Balances map[string]decimal.Decimal

// Sum adds every balance. A consistent expense set sums to zero within Epsilon.
func (b Balances) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range b {
		sum = sum.Add(v)
	}
	return sum
}

// PendingEdges returns the unresolved edges in their original order.
func PendingEdges(edges []Edge) []Edge {
	var out []Edge
	for _, e := range edges {
		if !e.Resolved {
			out = append(out, e)
		}
	}
	return out
}

// ResolvedEdges returns the resolved edges in their original order.
func ResolvedEdges(edges []Edge) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Resolved {
			out = append(out, e)
		}
	}
	return out
}
