// Package arbiter adapts arbitration engines that judge actions.
//
// Three engines are provided: Rules (deterministic, in-process), Remote
// (an HTTP model service) and Referee (a human answering through a Redis
// queue). Callers always go through a Guard, which bounds every judgement by
// a timeout and substitutes a deterministic fallback verdict when the engine
// is unavailable, slow, or returns something malformed.
package arbiter

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/gambit/pkg/world"
)

// Verdict sources recorded on the ledger.
const (
	SourceRules    = "rules"
	SourceRemote   = "remote"
	SourceReferee  = "referee"
	SourceFallback = "fallback"
)

// UnavailablePrefix starts the rationale of every fallback verdict.
const UnavailablePrefix = "arbiter_unavailable"

// Request is everything an engine may consider when judging an action.
type Request struct {
	SessionID    string                     `json:"session_id"`
	Action       world.Action               `json:"action"`
	Capabilities world.CapabilityDescriptor `json:"capabilities"`
	State        *world.WorldState          `json:"state"`
}

// Arbiter judges a single action.
type Arbiter interface {
	Judge(ctx context.Context, req Request) (world.Verdict, error)
}

// Fallback describes the verdict used when the engine cannot answer.
type Fallback struct {
	Outcome    world.Outcome
	Confidence float64
}

// DefaultFallback lets the action through at half confidence.
var DefaultFallback = Fallback{Outcome: world.OutcomeSuccess, Confidence: 0.5}

// Verdict builds the fallback verdict for the given cause.
func (f Fallback) Verdict(cause error) world.Verdict {
	return world.Verdict{
		Outcome:    f.Outcome,
		Rationale:  fmt.Sprintf("%s: %v", UnavailablePrefix, cause),
		Confidence: f.Confidence,
		Source:     SourceFallback,
	}
}

// Guard wraps an engine with the mandatory timeout and fallback.
type Guard struct {
	arbiter  Arbiter
	timeout  time.Duration
	fallback Fallback
}

// NewGuard wraps an engine. A zero timeout is not allowed; it is replaced
// with two seconds.
func NewGuard(a Arbiter, timeout time.Duration, fallback Fallback) *Guard {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Guard{arbiter: a, timeout: timeout, fallback: fallback}
}

// Timeout returns the per-judgement deadline.
func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// Judge asks the engine for a verdict. The returned verdict is always valid
// and usable; a non-nil error reports why the fallback was used instead of
// the engine's answer.
func (g *Guard) Judge(ctx context.Context, req Request) (world.Verdict, error) {
	if g.arbiter == nil {
		err := fmt.Errorf("no arbiter configured")
		return g.fallback.Verdict(err), err
	}

	judgeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		verdict world.Verdict
		err     error
	}
	done := make(chan result, 1)
	go func() {
		v, err := g.arbiter.Judge(judgeCtx, req)
		done <- result{v, err}
	}()

	select {
	case <-judgeCtx.Done():
		err := fmt.Errorf("timed out after %s: %w", g.timeout, judgeCtx.Err())
		return g.fallback.Verdict(err), err
	case r := <-done:
		if r.err != nil {
			return g.fallback.Verdict(r.err), r.err
		}
		if err := r.verdict.Validate(); err != nil {
			err = fmt.Errorf("malformed verdict: %w", err)
			return g.fallback.Verdict(err), err
		}
		return r.verdict, nil
	}
}
