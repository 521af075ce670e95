// Package capability adapts external capability providers. Whatever the
// provider does, a lookup always yields a descriptor: failures degrade to the
// neutral descriptor so an unreachable provider never fails an action.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dyluth/gambit/pkg/world"
)

// ErrUnknownActor is returned by providers that have no record of the actor.
var ErrUnknownActor = errors.New("unknown actor")

// Provider returns a capability descriptor for an actor.
type Provider interface {
	GetCapabilities(ctx context.Context, actorID string) (world.CapabilityDescriptor, error)
}

// Lookup queries the provider with a timeout. On any failure it returns the
// neutral descriptor together with the cause, which callers log and move on.
// The returned descriptor is always usable.
func Lookup(ctx context.Context, p Provider, actorID string, timeout time.Duration) (world.CapabilityDescriptor, error) {
	if p == nil {
		return world.NeutralCapabilities(actorID), fmt.Errorf("no capability provider configured")
	}

	lookupCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		caps world.CapabilityDescriptor
		err  error
	}
	done := make(chan result, 1)
	go func() {
		caps, err := p.GetCapabilities(lookupCtx, actorID)
		done <- result{caps, err}
	}()

	select {
	case <-lookupCtx.Done():
		return world.NeutralCapabilities(actorID), fmt.Errorf("capability provider unavailable: %w", lookupCtx.Err())
	case r := <-done:
		if r.err != nil {
			return world.NeutralCapabilities(actorID), fmt.Errorf("capability provider unavailable: %w", r.err)
		}
		return normalize(actorID, r.caps), nil
	}
}

// normalize fills nil collections and pins the actor ID and source so the
// ledger snapshot has a stable shape.
func normalize(actorID string, caps world.CapabilityDescriptor) world.CapabilityDescriptor {
	caps.ActorID = actorID
	caps.Source = world.CapabilitySourceProvider
	if caps.Abilities == nil {
		caps.Abilities = []string{}
	}
	if caps.Modifiers == nil {
		caps.Modifiers = map[string]float64{}
	}
	if caps.Restricted == nil {
		caps.Restricted = []world.ActionType{}
	}
	return caps
}

// Static serves descriptors from a fixed table, typically loaded from
// gambit.yml. Unknown actors return ErrUnknownActor.
type Static struct {
	actors map[string]world.CapabilityDescriptor
}

// NewStatic creates a static provider. The map is copied.
func NewStatic(actors map[string]world.CapabilityDescriptor) *Static {
	copied := make(map[string]world.CapabilityDescriptor, len(actors))
	for id, caps := range actors {
		copied[id] = caps
	}
	return &Static{actors: copied}
}

// GetCapabilities implements Provider.
func (s *Static) GetCapabilities(ctx context.Context, actorID string) (world.CapabilityDescriptor, error) {
	caps, ok := s.actors[actorID]
	if !ok {
		return world.CapabilityDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownActor, actorID)
	}
	return caps, nil
}

// Remote fetches descriptors from an HTTP service:
//
//	GET {endpoint}/actors/{actor_id}/capabilities
//
// 404 maps to ErrUnknownActor; any other non-200 status is an error.
type Remote struct {
	endpoint string
	client   *http.Client
}

// NewRemote creates a remote provider. A nil client uses http.DefaultClient.
func NewRemote(endpoint string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{endpoint: endpoint, client: client}
}

// GetCapabilities implements Provider.
func (r *Remote) GetCapabilities(ctx context.Context, actorID string) (world.CapabilityDescriptor, error) {
	u := fmt.Sprintf("%s/actors/%s/capabilities", r.endpoint, url.PathEscape(actorID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return world.CapabilityDescriptor{}, fmt.Errorf("failed to build capability request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return world.CapabilityDescriptor{}, fmt.Errorf("capability request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return world.CapabilityDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownActor, actorID)
	default:
		return world.CapabilityDescriptor{}, fmt.Errorf("capability service returned %s", resp.Status)
	}

	var caps world.CapabilityDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return world.CapabilityDescriptor{}, fmt.Errorf("failed to decode capability response: %w", err)
	}
	return caps, nil
}
