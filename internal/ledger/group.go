package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/susu3304/warikanbot/internal/settlement"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
)

// Group is the aggregate for one expense-sharing group. Its expenses and
// edges are changed only through the methods below, which keep the pending
// edge set in sync with the expense list.
type Group struct {
	ID        string               `json:"groupId"`
	Name      string               `json:"name"`
	GuildID   string               `json:"guildId,omitempty"`
	ChannelID string               `json:"channelId,omitempty"`
	Members   []string             `json:"members"`
	Status    Status               `json:"groupStatus"`
	Version   int64                `json:"version"`
	Expenses  []settlement.Expense `json:"expenses"`
	Edges     []settlement.Edge    `json:"edges"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
	ClosedAt  *time.Time           `json:"closedAt,omitempty"`
}

// HistoryEntry is one resolved edge as written to the archive.
type HistoryEntry struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	SettledAt time.Time       `json:"settledAt"`
}

type History struct {
	GroupID      string         `json:"groupId"`
	GroupName    string         `json:"groupName"`
	SettledEdges []HistoryEntry `json:"settledEdges"`
}

func NewGroup(name string, members []string, now time.Time) *Group {
	g := &Group{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range members {
		g.addMember(m)
	}
	return g
}

// Clone returns a deep copy so a failed operation never leaks into the
// caller's aggregate.
func (g *Group) Clone() *Group {
	c := *g
	c.Members = append([]string(nil), g.Members...)
	c.Edges = append([]settlement.Edge(nil), g.Edges...)
	c.Expenses = make([]settlement.Expense, len(g.Expenses))
	for i, e := range g.Expenses {
		e.Payees = append([]settlement.Payee(nil), e.Payees...)
		c.Expenses[i] = e
	}
	if g.ClosedAt != nil {
		t := *g.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

func (g *Group) Pending() []settlement.Edge  { return settlement.PendingEdges(g.Edges) }
func (g *Group) Resolved() []settlement.Edge { return settlement.ResolvedEdges(g.Edges) }

func (g *Group) Balances() settlement.Balances {
	return settlement.CalculateBalances(g.Expenses, g.Resolved())
}

func (g *Group) ensureActive() error {
	if g.Status != StatusActive {
		return &settlement.StateError{GroupID: g.ID, Status: string(g.Status)}
	}
	return nil
}

func (g *Group) addMember(id string) bool {
	if id == "" {
		return false
	}
	for _, m := range g.Members {
		if m == id {
			return false
		}
	}
	g.Members = append(g.Members, id)
	return true
}

// Join adds a member. Members only serve as the default payee list; they do
// not affect balances.
func (g *Group) Join(userID string) (bool, error) {
	if err := g.ensureActive(); err != nil {
		return false, err
	}
	return g.addMember(userID), nil
}

// AddExpenses validates and appends expenses, then recomputes the pending
// edges. Missing ids and timestamps are filled in.
func (g *Group) AddExpenses(now time.Time, expenses ...settlement.Expense) (*settlement.ConsistencyWarning, error) {
	if err := g.ensureActive(); err != nil {
		return nil, err
	}
	added := make([]settlement.Expense, 0, len(expenses))
	seen := make(map[string]bool, len(expenses))
	for _, e := range expenses {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		} else if seen[e.ID] || g.expenseIndex(e.ID) >= 0 {
			return nil, &settlement.ValidationError{Field: "id", Reason: "duplicate expense id " + e.ID}
		}
		seen[e.ID] = true
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		added = append(added, e)
	}
	return g.recompute(g.Expenses, added, now), nil
}

// EditExpense replaces the expense with the same id and recomputes.
func (g *Group) EditExpense(now time.Time, e settlement.Expense) (*settlement.ConsistencyWarning, error) {
	if err := g.ensureActive(); err != nil {
		return nil, err
	}
	idx := g.expenseIndex(e.ID)
	if idx < 0 {
		return nil, &settlement.NotFoundError{Kind: "expense", ID: e.ID}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = g.Expenses[idx].CreatedAt
	}
	expenses := append([]settlement.Expense(nil), g.Expenses...)
	expenses[idx] = e
	return g.recompute(expenses, nil, now), nil
}

func (g *Group) DeleteExpense(now time.Time, id string) (*settlement.ConsistencyWarning, error) {
	if err := g.ensureActive(); err != nil {
		return nil, err
	}
	idx := g.expenseIndex(id)
	if idx < 0 {
		return nil, &settlement.NotFoundError{Kind: "expense", ID: id}
	}
	expenses := make([]settlement.Expense, 0, len(g.Expenses)-1)
	expenses = append(expenses, g.Expenses[:idx]...)
	expenses = append(expenses, g.Expenses[idx+1:]...)
	return g.recompute(expenses, nil, now), nil
}

func (g *Group) recompute(existing, added []settlement.Expense, now time.Time) *settlement.ConsistencyWarning {
	res := settlement.Merge(existing, added, g.Edges)
	g.Expenses = res.Expenses
	g.Edges = res.Edges
	g.UpdatedAt = now
	return res.Warning
}

func (g *Group) expenseIndex(id string) int {
	for i, e := range g.Expenses {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Resolve marks the pending edge from -> to as paid. Only the debtor may
// resolve their own edge. When the last pending edge is resolved the group
// completes.
func (g *Group) Resolve(now time.Time, from, to, requester string) (HistoryEntry, error) {
	if err := g.ensureActive(); err != nil {
		return HistoryEntry{}, err
	}
	idx := -1
	for i, e := range g.Edges {
		if !e.Resolved && e.From == from && e.To == to {
			idx = i
			break
		}
	}
	if idx < 0 {
		return HistoryEntry{}, &settlement.NotFoundError{Kind: "pending edge", ID: from + "->" + to}
	}
	if requester != from {
		return HistoryEntry{}, &settlement.PermissionError{Requester: requester, Owner: from}
	}

	g.Edges[idx].Resolved = true
	g.UpdatedAt = now
	if len(g.Pending()) == 0 {
		g.Status = StatusCompleted
		g.ClosedAt = &now
	}
	edge := g.Edges[idx]
	return HistoryEntry{From: edge.From, To: edge.To, Amount: edge.Amount, SettledAt: now}, nil
}

// Delete moves an active group to deleted regardless of pending edges.
func (g *Group) Delete(now time.Time) error {
	if err := g.ensureActive(); err != nil {
		return err
	}
	g.Status = StatusDeleted
	g.UpdatedAt = now
	g.ClosedAt = &now
	return nil
}
