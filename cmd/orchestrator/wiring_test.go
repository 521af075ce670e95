package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/gambit/internal/arbiter"
	"github.com/dyluth/gambit/internal/capability"
	"github.com/dyluth/gambit/internal/config"
	"github.com/dyluth/gambit/internal/store"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProvider(t *testing.T) {
	static := buildProvider(&config.CapabilitiesConfig{Kind: "static", Actors: map[string]config.ActorConfig{
		"7": {Abilities: []string{"magic"}},
	}})
	require.IsType(t, &capability.Static{}, static)
	caps, err := static.GetCapabilities(context.Background(), "7")
	require.NoError(t, err)
	assert.True(t, caps.HasAbility("magic"))

	remote := buildProvider(&config.CapabilitiesConfig{Kind: "remote", Endpoint: "http://caps:9000", TimeoutMs: 100})
	assert.IsType(t, &capability.Remote{}, remote)
}

func TestBuildManager(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := store.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	for _, kind := range []string{"rules", "referee"} {
		cfg := config.Default()
		cfg.Arbiter.Kind = kind
		guard, err := buildArbiter(cfg, client)
		require.NoError(t, err)
		assert.Equal(t, cfg.Arbiter.Timeout(), guard.Timeout())
	}

	cfg := config.Default()
	cfg.Arbiter.Kind = "oracle"
	_, err = buildArbiter(cfg, client)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Broadcast.Redis = true
	manager, err := buildManager(cfg, client)
	require.NoError(t, err)

	ctx := context.Background()
	sub, err := client.SubscribeUpdates(ctx, "")
	require.NoError(t, err)
	defer sub.Close()

	created, err := manager.CreateSession(ctx, nil)
	require.NoError(t, err)
	res, err := manager.ProcessAction(ctx, created.ID, world.Action{
		ActorID: "7", Platform: "web", Type: world.ActionBuild, Payload: map[string]any{"object": "tower"},
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, arbiter.SourceRules, res.Verdict.Source)

	select {
	case update := <-sub.Events():
		assert.Equal(t, created.ID, update.SessionID)
		assert.Equal(t, res.NewStateHash, update.StateHash)
	case <-time.After(2 * time.Second):
		t.Fatal("no update published on Redis")
	}
}
