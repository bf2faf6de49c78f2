package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/warikanbot/internal/config"
	"github.com/susu3304/warikanbot/internal/ledger"
)

type testServer struct {
	t      *testing.T
	api    *API
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{JWTSecret: "test-secret", WebBind: "127.0.0.1:0"}
	a := New(cfg, ledger.NewService(ledger.NewMemoryStore()), nil)
	a.guildAccess = func(accessToken, guildID string) bool { return guildID == "guild-ok" }
	return &testServer{t: t, api: a, tokens: make(map[string]string)}
}

func (s *testServer) token(user string) string {
	if tok, ok := s.tokens[user]; ok {
		return tok
	}
	tok, err := s.api.issueToken(user, user, "discord-"+user)
	require.NoError(s.t, err)
	s.tokens[user] = tok
	return tok
}

func (s *testServer) do(user, method, path, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(user))
	}
	w := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type edgeJSON struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
	Resolved bool   `json:"resolved"`
}

func (s *testServer) createGroup(user string) string {
	w := s.do(user, "POST", "/api/groups", `{"name":"trip","members":["B","C"]}`)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var g struct {
		ID      string   `json:"groupId"`
		Members []string `json:"members"`
		Status  string   `json:"groupStatus"`
	}
	decode(s.t, w, &g)
	assert.Equal(s.t, []string{user, "B", "C"}, g.Members)
	assert.Equal(s.t, "active", g.Status)
	return g.ID
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w := s.do("", "GET", "/api/groups/x", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/groups/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	w = s.do("", "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSettlementOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createGroup("A")
	base := "/api/groups/" + id

	w := s.do("A", "POST", base+"/expenses", `{"name":"dinner","payer":"A","totalAmount":"300","payees":["A","B","C"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct {
		AllExpenses  []json.RawMessage `json:"allExpenses"`
		PendingEdges []edgeJSON        `json:"pendingEdges"`
		Warning      string            `json:"warning"`
	}
	decode(t, w, &res)
	assert.Len(t, res.AllExpenses, 1)
	assert.Equal(t, []edgeJSON{
		{From: "B", To: "A", Amount: "100"},
		{From: "C", To: "A", Amount: "100"},
	}, res.PendingEdges)
	assert.Empty(t, res.Warning)

	w = s.do("C", "POST", base+"/resolve", `{"from":"B","to":"A"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do("B", "POST", base+"/resolve", `{"from":"B","to":"A"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rr struct {
		PendingEdges  []edgeJSON `json:"pendingEdges"`
		ResolvedEdges []edgeJSON `json:"resolvedEdges"`
		GroupStatus   string     `json:"groupStatus"`
	}
	decode(t, w, &rr)
	assert.Equal(t, "active", rr.GroupStatus)
	assert.Equal(t, []edgeJSON{{From: "B", To: "A", Amount: "100", Resolved: true}}, rr.ResolvedEdges)

	w = s.do("B", "POST", base+"/resolve", `{"from":"B","to":"A"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do("A", "POST", base+"/expenses", `{"expenses":[{"name":"drinks","payer":"A","totalAmount":90,"payees":[{"id":"A","amount":"45"},{"id":"C","amount":"45"}]}]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	decode(t, w, &res)
	assert.Equal(t, []edgeJSON{{From: "C", To: "A", Amount: "145"}}, res.PendingEdges)

	w = s.do("A", "GET", base+"/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var h struct {
		GroupName    string `json:"groupName"`
		SettledEdges []struct {
			From   string `json:"from"`
			To     string `json:"to"`
			Amount string `json:"amount"`
		} `json:"settledEdges"`
	}
	decode(t, w, &h)
	assert.Equal(t, "trip", h.GroupName)
	require.Len(t, h.SettledEdges, 1)
	assert.Equal(t, "100", h.SettledEdges[0].Amount)

	w = s.do("A", "GET", base+"/balances", "")
	require.Equal(t, http.StatusOK, w.Code)
	var b struct {
		Balances map[string]string `json:"balances"`
	}
	decode(t, w, &b)
	assert.Equal(t, "145", b.Balances["A"])
	assert.Equal(t, "-145", b.Balances["C"])

	w = s.do("C", "POST", base+"/resolve", `{"from":"C","to":"A"}`)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rr)
	assert.Equal(t, "completed", rr.GroupStatus)

	w = s.do("A", "DELETE", base, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExpenseEditAndDelete(t *testing.T) {
	s := newTestServer(t)
	id := s.createGroup("A")
	base := "/api/groups/" + id

	w := s.do("A", "POST", base+"/expenses", `{"id":"e1","name":"taxi","payer":"B","totalAmount":"40","payees":["A","B"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do("A", "PUT", base+"/expenses/e1", `{"name":"taxi","payer":"B","totalAmount":"60","payees":["A","B","C"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		PendingEdges []edgeJSON `json:"pendingEdges"`
	}
	decode(t, w, &res)
	assert.Equal(t, []edgeJSON{
		{From: "A", To: "B", Amount: "20"},
		{From: "C", To: "B", Amount: "20"},
	}, res.PendingEdges)

	w = s.do("A", "PUT", base+"/expenses/missing", `{"name":"taxi","payer":"B","totalAmount":"60","payees":["A"]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do("A", "DELETE", base+"/expenses/e1", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.Empty(t, res.PendingEdges)

	w = s.do("A", "DELETE", base, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do("A", "GET", base, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"groupStatus":"deleted"`)
}

func TestExpenseValidationErrors(t *testing.T) {
	s := newTestServer(t)
	id := s.createGroup("A")
	base := "/api/groups/" + id

	tests := []struct {
		name string
		body string
	}{
		{"missing payer", `{"name":"x","totalAmount":"10","payees":["A"]}`},
		{"zero amount", `{"name":"x","payer":"A","totalAmount":"0","payees":["A"]}`},
		{"no payees", `{"name":"x","payer":"A","totalAmount":"10","payees":[]}`},
		{"numeric payee", `{"name":"x","payer":"A","totalAmount":"10","payees":[7]}`},
		{"mixed payees", `{"name":"x","payer":"A","totalAmount":"10","payees":["A",{"id":"B","amount":"5"}]}`},
		{"broken json", `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do("A", "POST", base+"/expenses", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	w := s.do("A", "GET", base, "")
	require.Equal(t, http.StatusOK, w.Code)
	var g struct {
		Expenses []json.RawMessage `json:"expenses"`
	}
	decode(t, w, &g)
	assert.Empty(t, g.Expenses)
}

func TestGuildAccess(t *testing.T) {
	s := newTestServer(t)

	w := s.do("A", "POST", "/api/groups", `{"name":"guild trip","guildId":"guild-denied"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do("A", "POST", "/api/groups", `{"name":"guild trip","guildId":"guild-ok"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do("A", "GET", "/api/groups/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGroupWithoutGuildIsMembersOnly(t *testing.T) {
	s := newTestServer(t)
	id := s.createGroup("A")

	assert.Equal(t, http.StatusForbidden, s.do("Z", "GET", "/api/groups/"+id, "").Code)
	assert.Equal(t, http.StatusForbidden, s.do("Z", "GET", "/api/groups/"+id+"/balances", "").Code)
	assert.Equal(t, http.StatusForbidden, s.do("Z", "GET", "/api/groups/"+id+"/history", "").Code)
	w := s.do("Z", "POST", "/api/groups/"+id+"/expenses",
		`{"name":"x","payer":"Z","totalAmount":"10","payees":["Z","A"]}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusForbidden, s.do("Z", "DELETE", "/api/groups/"+id, "").Code)

	w = s.do("B", "GET", "/api/groups/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	var g struct {
		Expenses []json.RawMessage `json:"expenses"`
	}
	decode(t, w, &g)
	assert.Empty(t, g.Expenses)
}
