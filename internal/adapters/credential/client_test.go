package credential

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type backend struct {
	sessionStatus int
	sessionBody   string
	connStatus    int
	connBody      string

	gotCustomID string
	gotPath     string
	gotType     string
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		b.gotType = r.Header.Get("Content-Type")
		var req struct {
			CustomSessionID string `json:"customSessionId"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &req)
		b.gotCustomID = req.CustomSessionID
		w.WriteHeader(b.sessionStatus)
		_, _ = io.WriteString(w, b.sessionBody)
	})
	mux.HandleFunc("POST /api/sessions/{id}/connections", func(w http.ResponseWriter, r *http.Request) {
		b.gotPath = r.PathValue("id")
		w.WriteHeader(b.connStatus)
		_, _ = io.WriteString(w, b.connBody)
	})
	return mux
}

func newTestClient(t *testing.T, b *backend) *Client {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/"})
}

func TestAcquireCredential(t *testing.T) {
	cases := []struct {
		name        string
		sessionBody string
		connBody    string
		wantSession string
		wantToken   string
	}{
		{"json strings", `"SessionA"`, `"wss://media?token=abc"`, "SessionA", "wss://media?token=abc"},
		{"objects", `{"id":"SessionA"}`, `{"token":"tok-1","id":"con_1"}`, "SessionA", "tok-1"},
		{"plain text", "SessionA\n", "tok-plain", "SessionA", "tok-plain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &backend{
				sessionStatus: http.StatusOK, sessionBody: tc.sessionBody,
				connStatus: http.StatusOK, connBody: tc.connBody,
			}
			c := newTestClient(t, b)

			cred, err := c.AcquireCredential(context.Background(), "SessionA")
			require.NoError(t, err)
			require.Equal(t, tc.wantSession, cred.SessionID)
			require.Equal(t, tc.wantToken, cred.Token)
			require.Equal(t, "SessionA", b.gotCustomID)
			require.Equal(t, "SessionA", b.gotPath)
			require.Equal(t, "application/json", b.gotType)
		})
	}
}

func TestCreateSessionConflictReusesID(t *testing.T) {
	b := &backend{sessionStatus: http.StatusConflict, connStatus: http.StatusOK, connBody: `"tok"`}
	c := newTestClient(t, b)

	cred, err := c.AcquireCredential(context.Background(), "SessionA")
	require.NoError(t, err)
	require.Equal(t, "SessionA", cred.SessionID)
	require.Equal(t, "tok", cred.Token)
}

func TestAcquireCredentialFailures(t *testing.T) {
	cases := []struct {
		name string
		b    backend
	}{
		{"session 500", backend{sessionStatus: http.StatusInternalServerError, connStatus: http.StatusOK, connBody: `"tok"`}},
		{"connection 404", backend{sessionStatus: http.StatusOK, sessionBody: `"SessionA"`, connStatus: http.StatusNotFound}},
		{"empty token", backend{sessionStatus: http.StatusOK, sessionBody: `"SessionA"`, connStatus: http.StatusOK, connBody: `{"id":"x"}`}},
		{"empty session", backend{sessionStatus: http.StatusOK, sessionBody: `""`, connStatus: http.StatusOK, connBody: `"tok"`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &tc.b)
			_, err := c.AcquireCredential(context.Background(), "SessionA")
			require.ErrorIs(t, err, core.ErrCredential)
		})
	}
}

func TestAcquireCredentialNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.AcquireCredential(context.Background(), "SessionA")
	require.ErrorIs(t, err, core.ErrCredential)
}
