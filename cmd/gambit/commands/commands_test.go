package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/gambit/internal/api"
	"github.com/dyluth/gambit/internal/arbiter"
	"github.com/dyluth/gambit/internal/capability"
	"github.com/dyluth/gambit/internal/printer"
	"github.com/dyluth/gambit/internal/session"
	"github.com/dyluth/gambit/internal/store"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	mr      *miniredis.Miniredis
	store   *store.Client
	manager *session.Manager
	server  *httptest.Server
}

// setupHarness serves the API over miniredis and points the CLI at both.
func setupHarness(t *testing.T, opts session.Options) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	sc, err := store.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close() })

	opts.Namespace = "test-ns"
	if opts.Capabilities == nil {
		opts.Capabilities = capability.NewStatic(map[string]world.CapabilityDescriptor{
			"7": {Abilities: []string{"magic"}},
		})
	}
	opts.CapabilityTimeout = time.Second
	m := session.NewManager(sc, opts)

	server := httptest.NewServer(api.NewServer(m, sc, time.Second).Router())
	t.Cleanup(server.Close)
	return &harness{mr: mr, store: sc, manager: m, server: server}
}

// run executes the CLI with fresh flags and returns stdout and stderr.
func (h *harness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	prevOut, prevErr, prevNoColor := printer.Out, printer.Err, color.NoColor
	printer.Out, printer.Err, color.NoColor = &out, &errOut, true
	defer func() { printer.Out, printer.Err, color.NoColor = prevOut, prevErr, prevNoColor }()

	full := append([]string{"--server", h.server.URL, "--redis-url", "redis://" + h.mr.Addr(), "--namespace", "test-ns"}, args...)
	rootCmd.SetArgs(full)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	err := Execute()
	return out.String(), errOut.String(), err
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Value.Type() != "stringArray" {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
	sessionCells = nil
}

func (h *harness) createSession(t *testing.T) string {
	t.Helper()
	created, err := h.manager.CreateSession(context.Background(), map[string]string{"3,4": "grass", "9,9": "wall"})
	require.NoError(t, err)
	return created.ID
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	h := setupHarness(t, session.Options{})
	_, _, err := h.run(t)
	require.NoError(t, err)
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	h := setupHarness(t, session.Options{})
	_, _, err := h.run(t, "--goal", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestSessionCommands(t *testing.T) {
	h := setupHarness(t, session.Options{})

	out, _, err := h.run(t, "session", "create", "--cell", "1,1=wall")
	require.NoError(t, err)
	assert.Contains(t, out, "created")

	ids, err := h.store.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	id := ids[0]

	out, _, err = h.run(t, "session", "show", id, "-o", "json")
	require.NoError(t, err)
	var s world.GameSession
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, world.SessionStatusActive, s.Status)

	out, _, err = h.run(t, "session", "archive", id)
	require.NoError(t, err)
	assert.Contains(t, out, "archived")

	out, _, err = h.run(t, "session", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "status:    archived")

	_, stderr, err := h.run(t, "session", "show", "missing")
	require.Error(t, err)
	assert.Contains(t, stderr, "not found")
}

func TestActAndStateCommands(t *testing.T) {
	h := setupHarness(t, session.Options{})
	id := h.createSession(t)

	out, _, err := h.run(t, "act", id, "--actor", "7", "--platform", "web", "--type", "move", "--payload", `{"position":[3,4]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "Applied: turn 1")

	out, _, err = h.run(t, "act", id, "--actor", "7", "--type", "move", "--payload", `{"position":[9,9]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "failure")
	assert.Contains(t, out, "Not applied: turn stays at 1")

	_, stderr, err := h.run(t, "act", id, "--actor", "7", "--type", "cast_spell", "--payload", `{}`)
	require.Error(t, err)
	assert.Contains(t, stderr, "action rejected")

	_, stderr, err = h.run(t, "act", id, "--actor", "7", "--type", "move", "--payload", `[1,2]`)
	require.Error(t, err)
	assert.Contains(t, stderr, "invalid payload")

	out, _, err = h.run(t, "state", id)
	require.NoError(t, err)
	var view api.StateView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 1, view.TurnNumber)
	assert.Equal(t, world.Position{3, 4}, view.Positions["7"])

	out, _, err = h.run(t, "state", id, "--turn", "0")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 0, view.TurnNumber)
	assert.Empty(t, view.Positions)

	_, _, err = h.run(t, "state", id, "--turn", "5")
	assert.Error(t, err)
}

func TestLedgerCommand(t *testing.T) {
	h := setupHarness(t, session.Options{})
	id := h.createSession(t)
	ctx := context.Background()

	res, err := h.manager.ProcessAction(ctx, id, world.Action{ActorID: "7", Platform: "web", Type: world.ActionBuild, Payload: map[string]any{"object": "tower"}})
	require.NoError(t, err)
	_, err = h.manager.ProcessAction(ctx, id, world.Action{ActorID: "8", Platform: "discord", Type: world.ActionAttack, TargetID: "7", Payload: map[string]any{}})
	require.NoError(t, err)

	out, _, err := h.run(t, "ledger", id)
	require.NoError(t, err)
	assert.Contains(t, out, "2 entries found")

	out, _, err = h.run(t, "ledger", id, "-o", "jsonl", "--platform", "discord")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"actor_id":"8"`)

	out, _, err = h.run(t, "ledger", id, strings.TrimPrefix(res.EntryHash, world.HashPrefix)[:8])
	require.NoError(t, err)
	var entry world.LedgerEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, res.EntryHash, entry.EntryHash)

	_, stderr, err := h.run(t, "ledger", id, "--outcome", "maybe")
	require.Error(t, err)
	assert.Contains(t, stderr, "invalid outcome filter")

	_, stderr, err = h.run(t, "ledger", id, "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, stderr, "invalid output format")

	_, stderr, err = h.run(t, "ledger", "missing")
	require.Error(t, err)
	assert.Contains(t, stderr, "not found")
}

func TestVerifyCommand(t *testing.T) {
	h := setupHarness(t, session.Options{})
	id := h.createSession(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.manager.ProcessAction(ctx, id, world.Action{ActorID: "7", Platform: "web", Type: world.ActionBuild, Payload: map[string]any{"object": "wall"}})
		require.NoError(t, err)
	}

	out, _, err := h.run(t, "verify", id)
	require.NoError(t, err)
	assert.Contains(t, out, "is VALID")
	assert.Contains(t, out, "final turn: 3")

	out, _, err = h.run(t, "verify", id, "--remote", "-o", "json")
	require.NoError(t, err)
	var report world.ChainReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)

	// Rewrite the verdict of the second entry without resealing it
	key := store.LedgerKey("test-ns", id)
	entries, err := h.store.Ledger(ctx, id, 0)
	require.NoError(t, err)
	tampered := entries[1]
	tampered.Verdict.Rationale = "rewritten history"
	data, err := store.EncodeEntry(&tampered)
	require.NoError(t, err)
	require.NoError(t, h.store.Redis().LSet(ctx, key, 1, data).Err())

	out, _, err = h.run(t, "verify", id)
	require.Error(t, err)
	assert.Contains(t, out, "is INVALID")
	assert.Contains(t, out, "seq 2: entry hash mismatch")
}

func TestWatchCommand_UntilTurn(t *testing.T) {
	h := setupHarness(t, session.Options{})
	id := h.createSession(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = h.manager.ProcessAction(context.Background(), id, world.Action{ActorID: "7", Platform: "web", Type: world.ActionBuild, Payload: map[string]any{"object": "tower"}})
	}()

	out, _, err := h.run(t, "watch", id, "--until-turn", "1", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "reached turn 1")

	_, stderr, err := h.run(t, "watch", "--until-turn", "1")
	require.Error(t, err)
	assert.Contains(t, stderr, "needs a session")
}

func TestRefereeCommand(t *testing.T) {
	h := setupHarness(t, session.Options{})
	referee := arbiter.NewReferee(h.store.Redis(), "test-ns")
	guard := arbiter.NewGuard(referee, 5*time.Second, arbiter.DefaultFallback)

	done := make(chan world.Verdict, 1)
	go func() {
		v, _ := guard.Judge(context.Background(), arbiter.Request{
			SessionID: "s-1",
			Action:    world.Action{ActorID: "7", Platform: "voice", Type: world.ActionCastSpell, Payload: map[string]any{"spell": "fireball"}},
		})
		done <- v
	}()

	rootCmd.SetIn(strings.NewReader("sometimes\npartial 0.6 only singes the eyebrows\n"))
	defer rootCmd.SetIn(nil)
	out, _, err := h.run(t, "referee", "--once", "--wait", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "cast_spell")
	assert.Contains(t, out, "Ruled partial")

	select {
	case v := <-done:
		assert.Equal(t, world.OutcomePartial, v.Outcome)
		assert.Equal(t, 0.6, v.Confidence)
		assert.Equal(t, "only singes the eyebrows", v.Rationale)
		assert.Equal(t, arbiter.SourceReferee, v.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("guard never received the ruling")
	}
}

func TestParseCells(t *testing.T) {
	board, err := parseCells([]string{"3,4=grass", " 5, 5=wall"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"3,4": "grass", "5,5": "wall"}, board)

	board, err = parseCells(nil)
	require.NoError(t, err)
	assert.Nil(t, board)

	_, err = parseCells([]string{"3,4"})
	assert.Error(t, err)
	_, err = parseCells([]string{"a,b=grass"})
	assert.Error(t, err)
}

func TestParseRuling(t *testing.T) {
	v, err := parseRuling("success the door opens\n")
	require.NoError(t, err)
	assert.Equal(t, world.OutcomeSuccess, v.Outcome)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Equal(t, "the door opens", v.Rationale)

	v, err = parseRuling("FAILURE 0.3 too heavy")
	require.NoError(t, err)
	assert.Equal(t, world.OutcomeFailure, v.Outcome)
	assert.Equal(t, 0.3, v.Confidence)

	// A lone number is the rationale, not a confidence
	v, err = parseRuling("partial 7")
	require.NoError(t, err)
	assert.Equal(t, "7", v.Rationale)

	_, err = parseRuling("success")
	assert.Error(t, err)
	_, err = parseRuling("maybe it works")
	assert.Error(t, err)
	_, err = parseRuling("success 1.5 overconfident")
	assert.Error(t, err)
}

func TestInitCommand(t *testing.T) {
	h := setupHarness(t, session.Options{})
	dir := t.TempDir()

	out, _, err := h.run(t, "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "gambit.yml")

	_, stderr, err := h.run(t, "init", "--dir", dir)
	require.Error(t, err)
	assert.Contains(t, stderr, "already initialized")

	_, _, err = h.run(t, "init", "--dir", dir, "--force")
	require.NoError(t, err)
}
