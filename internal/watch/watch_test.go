package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/gambit/internal/store"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanUpdates is an in-memory subscription.
type chanUpdates struct {
	events chan *world.StateUpdate
	errs   chan error
}

func newChanUpdates() *chanUpdates {
	return &chanUpdates{events: make(chan *world.StateUpdate, 10), errs: make(chan error, 10)}
}

func (c *chanUpdates) Events() <-chan *world.StateUpdate { return c.events }
func (c *chanUpdates) Errors() <-chan error              { return c.errs }

func TestStream_DefaultFormat(t *testing.T) {
	sub := newChanUpdates()
	sub.errs <- errors.New("failed to unmarshal state update")
	sub.events <- &world.StateUpdate{
		SessionID: "s-1", TurnNumber: 6, ActorID: "7", Origin: "web",
		Delta: world.Delta{Positions: map[string]world.Position{"7": {3, 4}}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	var out, errOut bytes.Buffer
	n, err := Stream(ctx, sub, OutputFormatDefault, 0, &out, &errOut)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out.String(), "turn 6 session=s-1 actor=7 via web: moved 7→(3,4)")
	assert.Contains(t, errOut.String(), "failed to unmarshal")
}

func TestStream_JSONAndLimit(t *testing.T) {
	sub := newChanUpdates()
	for turn := 1; turn <= 3; turn++ {
		sub.events <- &world.StateUpdate{SessionID: "s-1", TurnNumber: turn}
	}

	var out bytes.Buffer
	n, err := Stream(context.Background(), sub, OutputFormatJSON, 2, &out, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var last world.StateUpdate
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	assert.Equal(t, 2, last.TurnNumber)
}

func TestStream_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := Stream(ctx, newChanUpdates(), OutputFormatDefault, 0, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Stream(ctx, newChanUpdates(), OutputFormat("xml"), 0, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestStream_FromRedisSubscription(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := store.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	sub, err := client.SubscribeUpdates(ctx, "")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.PublishUpdate(ctx, world.StateUpdate{
		SessionID: "s-9", TurnNumber: 1, ActorID: "3", Origin: "discord",
		Delta: world.Delta{ObjectsAdded: map[string][]world.Object{"3": {{ID: "o", Kind: "tower"}}}},
	}))

	streamCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var out bytes.Buffer
	n, err := Stream(streamCtx, sub, OutputFormatDefault, 1, &out, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out.String(), "3 built tower")
}

// turnReader reports a turn that advances on every read.
type turnReader struct {
	turn int
}

func (r *turnReader) GetSession(_ context.Context, id string) (*world.GameSession, error) {
	r.turn++
	return &world.GameSession{ID: id, CurrentTurn: r.turn}, nil
}

func TestWaitForTurn(t *testing.T) {
	ctx := context.Background()

	s, err := WaitForTurn(ctx, &turnReader{}, "s-1", 3, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, s.CurrentTurn)

	_, err = WaitForTurn(ctx, &turnReader{turn: -1000}, "s-1", 3, 300*time.Millisecond)
	assert.ErrorContains(t, err, "timeout waiting for turn 3")
}

func TestDescribeDelta(t *testing.T) {
	assert.Equal(t, "no changes", describeDelta(world.Delta{}))
	got := describeDelta(world.Delta{
		EffectsAdded:   []world.Effect{{Spell: "fireball", ExpiresAtTurn: 9}},
		EffectsExpired: []string{"e1"},
		IntentsAdded:   []world.Intent{{AttackerID: "7", TargetID: "8"}},
	})
	assert.Equal(t, "fireball until turn 9, 1 effect(s) expired, 7 attacks 8", got)
}
