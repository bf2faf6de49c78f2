package settlement

type MergeResult struct {
	Expenses []Expense
	// Edges holds the recomputed pending edges followed by the resolved
	// edges, copied unchanged.
	Edges   []Edge
	Warning *ConsistencyWarning
}

func (r MergeResult) Pending() []Edge  { return PendingEdges(r.Edges) }
func (r MergeResult) Resolved() []Edge { return ResolvedEdges(r.Edges) }

// Merge folds added into existing and recomputes the pending edge set. It
// never modifies its inputs and never alters a resolved edge; calling it twice
// with the same expenses and resolved edges yields the same pending edges.
func Merge(existing, added []Expense, edges []Edge) MergeResult {
	all := make([]Expense, 0, len(existing)+len(added))
	all = append(all, existing...)
	all = append(all, added...)

	resolved := ResolvedEdges(edges)
	pending, warning := Match(CalculateBalances(all, resolved))

	out := make([]Edge, 0, len(pending)+len(resolved))
	out = append(out, pending...)
	out = append(out, resolved...)
	return MergeResult{Expenses: all, Edges: out, Warning: warning}
}
