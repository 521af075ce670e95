package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dyluth/gambit/pkg/world"
)

// Remote posts requests to an external model service:
//
//	POST {endpoint}/judge  body: Request  →  200 body: Verdict
type Remote struct {
	endpoint string
	client   *http.Client
}

// NewRemote creates a remote engine. A nil client uses http.DefaultClient;
// the Guard supplies the deadline through the request context.
func NewRemote(endpoint string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{endpoint: endpoint, client: client}
}

// Judge implements Arbiter.
func (r *Remote) Judge(ctx context.Context, req Request) (world.Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return world.Verdict{}, fmt.Errorf("failed to marshal judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/judge", bytes.NewReader(body))
	if err != nil {
		return world.Verdict{}, fmt.Errorf("failed to build judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return world.Verdict{}, fmt.Errorf("judge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return world.Verdict{}, fmt.Errorf("arbitration service returned %s", resp.Status)
	}

	var verdict world.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return world.Verdict{}, fmt.Errorf("failed to decode verdict: %w", err)
	}
	verdict.Source = SourceRemote
	return verdict, nil
}
