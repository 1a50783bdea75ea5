package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

var secret = []byte(strings.Repeat("s", 32))

func begin(t *testing.T, f *FlowStore, next string) (Flow, []*http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	flow, err := f.Begin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil), next)
	require.NoError(t, err)
	return flow, rec.Result().Cookies()
}

func callback(state string, cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+state, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestFlowRoundTrip(t *testing.T) {
	f := NewFlowStore(secret, true)
	flow, cookies := begin(t, f, "/bookmarks?tab=recent")
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.NotEmpty(t, flow.State)
	assert.GreaterOrEqual(t, len(flow.Verifier), 43)

	rec := httptest.NewRecorder()
	got, err := f.Complete(rec, callback(flow.State, cookies))
	require.NoError(t, err)
	assert.Equal(t, flow, got)

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Negative(t, cleared[0].MaxAge, "flow cookie is single use")
}

func TestFlowRejects(t *testing.T) {
	f := NewFlowStore(secret, true)
	flow, cookies := begin(t, f, "")

	tests := []struct {
		name string
		req  *http.Request
	}{
		{name: "state mismatch", req: callback("forged", cookies)},
		{name: "missing cookie", req: callback(flow.State, nil)},
		{name: "cookie signed with another key", req: func() *http.Request {
			_, foreign := begin(t, NewFlowStore([]byte(strings.Repeat("x", 32)), true), "")
			return callback(flow.State, foreign)
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Complete(httptest.NewRecorder(), tt.req)
			assert.ErrorIs(t, err, domain.ErrAuth)
		})
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                     "/bookmarks",
		"/bookmarks":           "/bookmarks",
		"/settings?x=1":        "/settings?x=1",
		"//evil.example":       "/bookmarks",
		"https://evil.example": "/bookmarks",
		`/\evil.example`:       "/bookmarks",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeNext(in), "SafeNext(%q)", in)
	}
}
