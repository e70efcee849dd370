// Package credential talks to the application backend that creates
// sessions and hands out connection tokens.
package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 64 << 10
)

var (
	ErrStatus     = errors.New("unexpected status")
	ErrEmptyValue = errors.New("empty value in response")
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored then.
	HTTPClient *http.Client
}

// Client implements core.CredentialProvider. It never retries.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  hc,
	}
}

// AcquireCredential creates (or reuses) sessionID and opens a connection in it.
func (c *Client) AcquireCredential(ctx context.Context, sessionID string) (domain.Credential, error) {
	sid, err := c.CreateSession(ctx, sessionID)
	if err != nil {
		return domain.Credential{}, err
	}
	token, err := c.CreateConnection(ctx, sid)
	if err != nil {
		return domain.Credential{}, err
	}
	log.Info().Str("module", "adapters.credential").Str("session", sid).Msg("credential acquired")
	return domain.Credential{SessionID: sid, Token: token}, nil
}

// CreateSession returns the backend session id for the requested custom id.
// A session that already exists resolves to the requested id.
func (c *Client) CreateSession(ctx context.Context, sessionID string) (string, error) {
	body := map[string]string{"customSessionId": sessionID}
	status, raw, err := c.post(ctx, "/api/sessions", body)
	if err != nil {
		return "", errors.Join(core.ErrCredential, fmt.Errorf("create session: %w", err))
	}
	if status == http.StatusConflict {
		log.Debug().Str("module", "adapters.credential").Str("session", sessionID).Msg("session already exists")
		return sessionID, nil
	}
	if status < 200 || status > 299 {
		return "", errors.Join(core.ErrCredential, fmt.Errorf("create session: %w %d", ErrStatus, status))
	}
	id := decodeValue(raw, "id", "sessionId")
	if id == "" {
		return "", errors.Join(core.ErrCredential, fmt.Errorf("create session: %w", ErrEmptyValue))
	}
	return id, nil
}

// CreateConnection returns a connection token for sessionID.
func (c *Client) CreateConnection(ctx context.Context, sessionID string) (string, error) {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/connections"
	status, raw, err := c.post(ctx, path, struct{}{})
	if err != nil {
		return "", errors.Join(core.ErrCredential, fmt.Errorf("create connection: %w", err))
	}
	if status < 200 || status > 299 {
		return "", errors.Join(core.ErrCredential, fmt.Errorf("create connection: %w %d", ErrStatus, status))
	}
	token := decodeValue(raw, "token")
	if token == "" {
		return "", errors.Join(core.ErrCredential, fmt.Errorf("create connection: %w", ErrEmptyValue))
	}
	return token, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// decodeValue accepts a JSON string, a JSON object carrying one of keys, or
// plain text.
func decodeValue(raw []byte, keys ...string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return ""
		}
		for _, k := range keys {
			if s, ok := obj[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	return string(raw)
}
