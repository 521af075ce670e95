package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type arbiterFunc func(ctx context.Context, req Request) (world.Verdict, error)

func (f arbiterFunc) Judge(ctx context.Context, req Request) (world.Verdict, error) {
	return f(ctx, req)
}

func moveRequest(x, y int) Request {
	state := world.NewWorldState("s-1", map[string]string{"1,1": "wall", "3,4": "grass"})
	return Request{
		SessionID:    "s-1",
		Action:       world.Action{ActorID: "7", Platform: "web", Type: world.ActionMove, Payload: map[string]any{"position": []int{x, y}}},
		Capabilities: world.NeutralCapabilities("7"),
		State:        state,
	}
}

func TestGuard_TimeoutFallsBack(t *testing.T) {
	hanging := arbiterFunc(func(ctx context.Context, req Request) (world.Verdict, error) {
		<-ctx.Done()
		return world.Verdict{}, ctx.Err()
	})
	guard := NewGuard(hanging, 50*time.Millisecond, DefaultFallback)

	start := time.Now()
	verdict, err := guard.Judge(context.Background(), moveRequest(3, 4))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, world.OutcomeSuccess, verdict.Outcome)
	assert.Equal(t, 0.5, verdict.Confidence)
	assert.Contains(t, verdict.Rationale, "arbiter_unavailable")
	assert.Equal(t, SourceFallback, verdict.Source)
	assert.NoError(t, verdict.Validate())
}

func TestGuard_ErrorsAndMalformedFallBack(t *testing.T) {
	failing := arbiterFunc(func(ctx context.Context, req Request) (world.Verdict, error) {
		return world.Verdict{}, errors.New("connection refused")
	})
	verdict, err := NewGuard(failing, time.Second, Fallback{Outcome: world.OutcomeFailure, Confidence: 0.1}).Judge(context.Background(), moveRequest(3, 4))
	assert.Error(t, err)
	assert.Equal(t, world.OutcomeFailure, verdict.Outcome)
	assert.Equal(t, "arbiter_unavailable: connection refused", verdict.Rationale)

	malformed := arbiterFunc(func(ctx context.Context, req Request) (world.Verdict, error) {
		return world.Verdict{Outcome: world.OutcomeSuccess, Confidence: 3}, nil
	})
	verdict, err = NewGuard(malformed, time.Second, DefaultFallback).Judge(context.Background(), moveRequest(3, 4))
	assert.Error(t, err)
	assert.Contains(t, verdict.Rationale, "malformed verdict")

	verdict, err = NewGuard(nil, time.Second, DefaultFallback).Judge(context.Background(), moveRequest(3, 4))
	assert.Error(t, err)
	assert.Contains(t, verdict.Rationale, UnavailablePrefix)
}

func TestGuard_PassesThroughValidVerdict(t *testing.T) {
	verdict, err := NewGuard(NewRules(RulesOptions{}), time.Second, DefaultFallback).Judge(context.Background(), moveRequest(3, 4))
	require.NoError(t, err)
	assert.Equal(t, world.OutcomeSuccess, verdict.Outcome)
	assert.Equal(t, SourceRules, verdict.Source)
}

func TestRules(t *testing.T) {
	rules := NewRules(RulesOptions{AbilityBoost: 0.1, SpellDurations: map[string]int{"fireball": 2}})
	ctx := context.Background()

	t.Run("restricted action fails", func(t *testing.T) {
		req := moveRequest(3, 4)
		req.Capabilities.Restricted = []world.ActionType{world.ActionMove}
		v, err := rules.Judge(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, world.OutcomeFailure, v.Outcome)
		assert.Contains(t, v.Rationale, "restricted")
	})

	t.Run("wall blocks movement", func(t *testing.T) {
		v, err := rules.Judge(ctx, moveRequest(1, 1))
		require.NoError(t, err)
		assert.Equal(t, world.OutcomeFailure, v.Outcome)
	})

	t.Run("matching ability boosts confidence", func(t *testing.T) {
		plain, err := rules.Judge(ctx, moveRequest(3, 4))
		require.NoError(t, err)

		req := moveRequest(3, 4)
		req.Capabilities.Abilities = []string{"move"}
		boosted, err := rules.Judge(ctx, req)
		require.NoError(t, err)
		assert.InDelta(t, plain.Confidence+0.1, boosted.Confidence, 1e-9)
	})

	t.Run("spell without magic is partial", func(t *testing.T) {
		req := Request{
			Action:       world.Action{ActorID: "7", Platform: "web", Type: world.ActionCastSpell, Payload: map[string]any{"spell": "fireball"}},
			Capabilities: world.NeutralCapabilities("7"),
		}
		v, err := rules.Judge(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, world.OutcomePartial, v.Outcome)
		assert.Equal(t, 2, v.Duration)

		req.Capabilities.Abilities = []string{"magic"}
		v, err = rules.Judge(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, world.OutcomeSuccess, v.Outcome)
	})

	t.Run("build and attack succeed", func(t *testing.T) {
		for _, action := range []world.Action{
			{ActorID: "7", Platform: "web", Type: world.ActionBuild, Payload: map[string]any{"object": "tower"}},
			{ActorID: "7", Platform: "web", Type: world.ActionAttack, TargetID: "9", Payload: map[string]any{}},
		} {
			v, err := rules.Judge(ctx, Request{Action: action, Capabilities: world.NeutralCapabilities("7")})
			require.NoError(t, err)
			assert.Equal(t, world.OutcomeSuccess, v.Outcome)
			assert.NoError(t, v.Validate())
		}
	})
}

func TestRemote(t *testing.T) {
	var received Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/judge", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"outcome":"partial","rationale":"the floor is slippery","confidence":0.6}`))
	}))
	defer server.Close()

	v, err := NewRemote(server.URL, server.Client()).Judge(context.Background(), moveRequest(3, 4))
	require.NoError(t, err)
	assert.Equal(t, world.OutcomePartial, v.Outcome)
	assert.Equal(t, SourceRemote, v.Source)
	assert.Equal(t, "7", received.Action.ActorID)
	assert.Equal(t, "s-1", received.State.SessionID)
}

func TestRemote_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	guard := NewGuard(NewRemote(server.URL, server.Client()), time.Second, DefaultFallback)
	v, err := guard.Judge(context.Background(), moveRequest(3, 4))
	assert.Error(t, err)
	assert.Contains(t, v.Rationale, "503")
}

func TestReferee_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	referee := NewReferee(rdb, "test-ns")
	ctx := context.Background()

	go func() {
		pending, err := referee.NextRequest(ctx, 2*time.Second)
		if err != nil {
			return
		}
		referee.Respond(ctx, pending.RequestID, world.Failure("the referee says no", 1))
	}()

	guard := NewGuard(referee, 3*time.Second, DefaultFallback)
	v, err := guard.Judge(ctx, moveRequest(3, 4))
	require.NoError(t, err)
	assert.Equal(t, world.OutcomeFailure, v.Outcome)
	assert.Equal(t, "the referee says no", v.Rationale)
	assert.Equal(t, SourceReferee, v.Source)
}

func TestReferee_RespondRejectsInvalidVerdict(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	err := NewReferee(rdb, "test-ns").Respond(context.Background(), "req-1", world.Verdict{Outcome: world.OutcomeSuccess})
	assert.Error(t, err)
}

func TestReferee_EmptyQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	_, err := NewReferee(rdb, "test-ns").NextRequest(context.Background(), time.Second)
	assert.ErrorIs(t, err, redis.Nil)
}
