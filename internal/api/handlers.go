package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/settlement"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Storage failures are
// logged and reported as 500 without details.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case settlement.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case settlement.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case settlement.IsPermission(err):
		http.Error(w, err.Error(), http.StatusForbidden)
	case settlement.IsState(err), errors.Is(err, ledger.ErrVersionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		a.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadGroup fetches the group and checks access: guild membership for groups
// that belong to a Discord guild, group membership for the rest.
func (a *API) loadGroup(w http.ResponseWriter, r *http.Request) (*ledger.Group, bool) {
	claims := claimsFrom(r.Context())
	g, err := a.ledger.Group(r.Context(), mux.Vars(r)["group_id"])
	if err != nil {
		a.writeError(w, r, err)
		return nil, false
	}
	allowed := slices.Contains(g.Members, claims.UserID)
	if g.GuildID != "" {
		allowed = a.guildAccess(claims.AccessToken, g.GuildID)
	}
	if !allowed {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}
	return g, true
}

func (a *API) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
		GuildID string   `json:"guildId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.GuildID != "" && !a.guildAccess(claims.AccessToken, req.GuildID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	g, err := a.ledger.CreateGroup(r.Context(), ledger.CreateGroupInput{
		Name:    req.Name,
		Members: append([]string{claims.UserID}, req.Members...),
		GuildID: req.GuildID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGroup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGroup(w, r)
	if !ok {
		return
	}
	deleted, err := a.ledger.DeleteGroup(r.Context(), g.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groupId":     deleted.ID,
		"groupStatus": deleted.Status,
	})
}

func (a *API) handleBalances(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGroup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groupId":  g.ID,
		"balances": g.Balances(),
	})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGroup(w, r)
	if !ok {
		return
	}
	h, err := a.ledger.History(r.Context(), g.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type expenseResponse struct {
	*ledger.ExpenseResult
	Warning string `json:"warning,omitempty"`
}

func (a *API) respondExpenses(w http.ResponseWriter, r *http.Request, status int, res *ledger.ExpenseResult, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := expenseResponse{ExpenseResult: res}
	if res.Warning != nil {
		out.Warning = res.Warning.Error()
	}
	writeJSON(w, status, out)
}

// handleAddExpenses accepts a single expense, or {"expenses": [...]} for a
// checkout of several expenses at once.
func (a *API) handleAddExpenses(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGroup(w, r)
	if !ok {
		return
	}

	var req struct {
		Expenses []settlement.Expense `json:"expenses"`
		settlement.Expense
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.badBody(w, r, err)
		return
	}
	expenses := req.Expenses
	if len(expenses) == 0 {
		expenses = []settlement.Expense{req.Expense}
	}

	res, err := a.ledger.AddExpenses(r.Context(), g.ID, expenses...)
	a.respondExpenses(w, r, http.StatusCreated, res, err)
}

func (a *API) handleEditExpense(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGroup(w, r)
	if !ok {
		return
	}

	var e settlement.Expense
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		a.badBody(w, r, err)
		return
	}
	e.ID = mux.Vars(r)["expense_id"]

	res, err := a.ledger.EditExpense(r.Context(), g.ID, e)
	a.respondExpenses(w, r, http.StatusOK, res, err)
}

func (a *API) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGroup(w, r)
	if !ok {
		return
	}
	res, err := a.ledger.DeleteExpense(r.Context(), g.ID, mux.Vars(r)["expense_id"])
	a.respondExpenses(w, r, http.StatusOK, res, err)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	g, ok := a.loadGroup(w, r)
	if !ok {
		return
	}

	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := a.ledger.Resolve(r.Context(), g.ID, req.From, req.To, claims.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// badBody reports a decode failure, keeping validation details from payee
// decoding visible to the client.
func (a *API) badBody(w http.ResponseWriter, r *http.Request, err error) {
	if settlement.IsValidation(err) {
		a.writeError(w, r, err)
		return
	}
	http.Error(w, "invalid request body", http.StatusBadRequest)
}
