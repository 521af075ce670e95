// Package client is a thin HTTP client for the orchestrator API, used by the
// gambit CLI and by platform integrations that do not embed the manager.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/gambit/internal/api"
	"github.com/dyluth/gambit/pkg/world"
)

// DefaultTimeout bounds every request made with a default client.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the orchestrator.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("orchestrator returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsNotFound returns true if err is a 404 from the orchestrator.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to one orchestrator base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. A nil httpClient gets DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Health checks the orchestrator and its Redis connection.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSession starts a session with an optional initial board.
func (c *Client) CreateSession(ctx context.Context, board map[string]string) (*world.GameSession, error) {
	var out world.GameSession
	if err := c.do(ctx, http.MethodPost, "/sessions", api.CreateSessionRequest{Board: board}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session fetches session metadata.
func (c *Client) Session(ctx context.Context, sessionID string) (*world.GameSession, error) {
	var out world.GameSession
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Archive archives a session.
func (c *Client) Archive(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/archive"), nil, nil)
}

// SubmitAction submits one action. Rejected actions come back as a response
// with Error set and a nil error, matching the 422 body.
func (c *Client) SubmitAction(ctx context.Context, sessionID string, action world.Action) (*api.ActionResponse, error) {
	var out api.ActionResponse
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/actions"), action, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity && out.Error != "" {
		return &out, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// State fetches the current world state.
func (c *Client) State(ctx context.Context, sessionID string) (*api.StateView, error) {
	var out api.StateView
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/state"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StateAt fetches the world state as it was at turn.
func (c *Client) StateAt(ctx context.Context, sessionID string, turn int) (*api.StateView, error) {
	var out api.StateView
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/state/"+strconv.Itoa(turn)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ledger fetches ledger entries with turn >= sinceTurn.
func (c *Client) Ledger(ctx context.Context, sessionID string, sinceTurn int) ([]world.LedgerEntry, error) {
	path := sessionPath(sessionID, "/ledger")
	if sinceTurn > 0 {
		path += "?since_turn=" + strconv.Itoa(sinceTurn)
	}
	var out []world.LedgerEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify asks the orchestrator to verify the session's chain.
func (c *Client) Verify(ctx context.Context, sessionID string) (*world.ChainReport, error) {
	var out world.ChainReport
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/verify"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func sessionPath(sessionID, suffix string) string {
	return "/sessions/" + url.PathEscape(sessionID) + suffix
}

// do sends a JSON request and decodes the JSON response into out. Error
// bodies are decoded into out as well when the status is 422, so callers can
// read the rejected result.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) == nil {
			apiErr.Code, apiErr.Message = e.Code, e.Message
		}
		if resp.StatusCode == http.StatusUnprocessableEntity && out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
