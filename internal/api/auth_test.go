package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestRandomState(t *testing.T) {
	a, err := randomState(strings.NewReader(strings.Repeat("\xff", 64)), stateLength)
	require.NoError(t, err)
	assert.Len(t, a, stateLength)
	assert.Equal(t, strings.Repeat("_", stateLength), a)

	for _, n := range []int{1, 5, 31, 33} {
		s, err := randomState(strings.NewReader(strings.Repeat("x", 64)), n)
		require.NoError(t, err)
		assert.Len(t, s, n)
	}

	_, err = randomState(failingReader{}, stateLength)
	assert.ErrorContains(t, err, "entropy unavailable")

	_, err = randomState(strings.NewReader("short"), stateLength)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	var states []string
	for i := 0; i < 2; i++ {
		w := s.do("", "GET", "/api/auth/login", "")
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			AuthURL string `json:"auth_url"`
			State   string `json:"state"`
		}
		decode(t, w, &body)
		assert.Len(t, body.State, stateLength)

		u, err := url.Parse(body.AuthURL)
		require.NoError(t, err)
		assert.Equal(t, body.State, u.Query().Get("state"))
		states = append(states, body.State)
	}
	assert.NotEqual(t, states[0], states[1])
}

func TestLoginFailsWithoutRandomness(t *testing.T) {
	s := newTestServer(t)
	s.api.random = failingReader{}

	w := s.do("", "GET", "/api/auth/login", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "state")
}
