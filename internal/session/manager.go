// Package session runs the per-action state machine and owns the
// single-writer discipline for each session.
//
// A ProcessAction call looks up capabilities and asks the arbiter outside any
// lock, against a snapshot of the current state. The transition, hashing and
// commit then run under the session's mutex against the real current state,
// so turns are gap-free no matter how many platforms submit concurrently.
// If the state moved more than MaxStaleTurns while the arbiter was thinking,
// the action is judged again under the lock. The store's WATCH guard covers
// writers in other processes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/gambit/internal/arbiter"
	"github.com/dyluth/gambit/internal/broadcast"
	"github.com/dyluth/gambit/internal/capability"
	"github.com/dyluth/gambit/internal/store"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionArchived is returned when acting on an archived (or archiving) session.
	ErrSessionArchived = errors.New("session is archived")

	// ErrPersistence wraps store failures. Nothing became current; the caller may retry.
	ErrPersistence = errors.New("persistence failure")

	// ErrTurnNotFound is returned by StateAt for turns the session never reached.
	ErrTurnNotFound = errors.New("turn not found")
)

// validatorSource marks verdicts produced by structural validation.
const validatorSource = "validator"

// commitAttempts bounds retries when another process moves the session head.
const commitAttempts = 3

// Store is the persistence the manager needs. *store.Client implements it.
type Store interface {
	CreateSession(ctx context.Context, session *world.GameSession, genesis *world.WorldState) error
	GetSession(ctx context.Context, sessionID string) (*world.GameSession, error)
	CurrentState(ctx context.Context, sessionID string) (*world.GameSession, *world.WorldState, error)
	GetState(ctx context.Context, sessionID string, turn int) (*world.WorldState, error)
	Commit(ctx context.Context, commit store.Commit) error
	Ledger(ctx context.Context, sessionID string, sinceTurn int) ([]world.LedgerEntry, error)
	SetStatus(ctx context.Context, sessionID string, status world.SessionStatus) error
	AddPlatform(ctx context.Context, sessionID, platform string) error
	RemovePlatform(ctx context.Context, sessionID, platform string) error
}

// Judge produces a verdict that is always usable. A non-nil error explains
// why a fallback verdict was substituted. *arbiter.Guard implements it.
type Judge interface {
	Judge(ctx context.Context, req arbiter.Request) (world.Verdict, error)
}

// Options configures a Manager.
type Options struct {
	Namespace         string
	Capabilities      capability.Provider
	CapabilityTimeout time.Duration
	Arbiter           Judge
	MaxStaleTurns     int
	Broadcaster       *broadcast.Broadcaster
}

// Result is what ProcessAction reports back to the submitting platform.
type Result struct {
	Applied      bool          `json:"applied"`
	Verdict      world.Verdict `json:"verdict"`
	NewStateHash string        `json:"new_state_hash"`
	TurnNumber   int           `json:"turn_number"`
	Seq          int           `json:"seq"`
	EntryHash    string        `json:"entry_hash"`
	Errors       []string      `json:"errors"`
	Phases       []Phase       `json:"phases"`
}

// writer serializes commits for one session and tracks in-flight calls so
// archiving can wait for them.
type writer struct {
	mu       sync.Mutex
	inflight sync.WaitGroup
	refs     int  // guarded by Manager.mu
	closing  bool // guarded by Manager.mu
}

// Manager coordinates sessions.
type Manager struct {
	store       Store
	caps        capability.Provider
	capTimeout  time.Duration
	judge       Judge
	maxStale    int
	broadcaster *broadcast.Broadcaster
	namespace   string
	now         func() time.Time

	mu      sync.Mutex
	writers map[string]*writer
}

// NewManager creates a session manager. A nil broadcaster gets a private
// one and a nil arbiter defaults to the guarded rules engine.
func NewManager(s Store, opts Options) *Manager {
	if opts.Broadcaster == nil {
		opts.Broadcaster = broadcast.New(opts.Namespace, broadcast.DefaultPushTimeout)
	}
	if opts.Arbiter == nil {
		opts.Arbiter = arbiter.NewGuard(arbiter.NewRules(arbiter.RulesOptions{}), 0, arbiter.DefaultFallback)
	}
	return &Manager{
		store:       s,
		caps:        opts.Capabilities,
		capTimeout:  opts.CapabilityTimeout,
		judge:       opts.Arbiter,
		maxStale:    opts.MaxStaleTurns,
		broadcaster: opts.Broadcaster,
		namespace:   opts.Namespace,
		now:         time.Now,
		writers:     make(map[string]*writer),
	}
}

// Broadcaster returns the fan-out registry.
func (m *Manager) Broadcaster() *broadcast.Broadcaster {
	return m.broadcaster
}

// enter registers an in-flight call. The caller must call exit.
func (m *Manager) enter(sessionID string) (*writer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.writers[sessionID]
	if !ok {
		w = &writer{}
		m.writers[sessionID] = w
	}
	if w.closing {
		return nil, ErrSessionArchived
	}
	w.refs++
	w.inflight.Add(1)
	return w, nil
}

// exit ends an in-flight call. With forget set, the writer is dropped once
// no other call holds it, so lookups of unknown sessions leave nothing behind.
func (m *Manager) exit(sessionID string, w *writer, forget bool) {
	m.mu.Lock()
	w.refs--
	if forget && w.refs == 0 && !w.closing && m.writers[sessionID] == w {
		delete(m.writers, sessionID)
	}
	m.mu.Unlock()
	w.inflight.Done()
}

// CreateSession creates a session whose turn-0 state holds the given board.
func (m *Manager) CreateSession(ctx context.Context, board map[string]string) (*world.GameSession, error) {
	id := uuid.New().String()
	genesis, err := world.WithHash(world.NewWorldState(id, board))
	if err != nil {
		return nil, fmt.Errorf("failed to hash genesis state: %w", err)
	}

	session := &world.GameSession{
		ID:          id,
		CurrentTurn: 0,
		Status:      world.SessionStatusActive,
		CurrentHash: genesis.Hash,
		Platforms:   []string{},
		CreatedAtMs: m.now().UnixMilli(),
	}
	if err := m.store.CreateSession(ctx, session, genesis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	log.Printf("[Session] Created session %s", id)
	m.logEvent("session_created", map[string]interface{}{
		"session_id": id,
		"state_hash": genesis.Hash,
		"cells":      len(genesis.Board),
	})
	return session, nil
}

// Session returns the session metadata.
func (m *Manager) Session(ctx context.Context, sessionID string) (*world.GameSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, m.storeErr(err)
	}
	return session, nil
}

// ProcessAction runs one action through validation, arbitration, transition,
// persistence and broadcast.
//
// Validation rejections are logged to the ledger with a failure verdict and
// returned as an error matching world.ErrMalformedAction or
// world.ErrUnknownActionType alongside the populated Result. Persistence
// failures return ErrPersistence and leave the session unchanged.
func (m *Manager) ProcessAction(ctx context.Context, sessionID string, action world.Action) (Result, error) {
	return m.process(ctx, sessionID, action, nil)
}

// RejectAction records an action that could not even be decoded into a
// well-formed Action. cause is logged as the validator's failure verdict,
// exactly as a world.Validate rejection would be, and returned wrapped in a
// *world.ValidationError when it is not one already.
func (m *Manager) RejectAction(ctx context.Context, sessionID string, action world.Action, cause error) (Result, error) {
	if cause == nil {
		return m.process(ctx, sessionID, action, nil)
	}
	var verr *world.ValidationError
	if !errors.As(cause, &verr) {
		cause = &world.ValidationError{Kind: world.ErrMalformedAction, Reason: cause.Error()}
	}
	return m.process(ctx, sessionID, action, cause)
}

func (m *Manager) process(ctx context.Context, sessionID string, action world.Action, decodeErr error) (res Result, err error) {
	w, err := m.enter(sessionID)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		m.exit(sessionID, w, errors.Is(err, ErrSessionNotFound))
	}()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, m.storeErr(err)
	}
	if session.Status == world.SessionStatusArchived {
		return Result{}, ErrSessionArchived
	}

	t := m.track(sessionID, action.ActorID)
	t.to(PhaseValidating)

	verr := decodeErr
	if verr == nil {
		verr = world.Validate(action)
	}
	if verr != nil {
		m.logEvent("action_rejected", map[string]interface{}{
			"session_id":  sessionID,
			"actor_id":    action.ActorID,
			"platform":    action.Platform,
			"action_type": string(action.Type),
			"error":       verr.Error(),
			"level":       "warn",
		})
		rejection := world.Verdict{Outcome: world.OutcomeFailure, Rationale: verr.Error(), Confidence: 1, Source: validatorSource}
		t.to(PhasePersisting)
		res, err := m.commitLocked(ctx, w, t, sessionID, action, world.NeutralCapabilities(action.ActorID), &judgement{verdict: rejection, errs: []string{verr.Error()}, skipApply: true})
		t.to(PhaseAwaitingAction)
		res.Phases = t.history
		if err != nil {
			return res, err
		}
		return res, verr
	}

	// Snapshot outside the lock. Capabilities captured here are the ones
	// logged, even if the action is re-judged later.
	_, snapshot, err := m.store.CurrentState(ctx, sessionID)
	if err != nil {
		t.to(PhaseAwaitingAction)
		return Result{Phases: t.history}, m.storeErr(err)
	}

	caps, capErr := capability.Lookup(ctx, m.caps, action.ActorID, m.capTimeout)
	var degraded []string
	if capErr != nil {
		log.Printf("[Session] Capability lookup for actor %s degraded to neutral: %v", action.ActorID, capErr)
		m.logEvent("capabilities_degraded", map[string]interface{}{
			"session_id": sessionID,
			"actor_id":   action.ActorID,
			"error":      capErr.Error(),
			"level":      "warn",
		})
		degraded = append(degraded, fmt.Sprintf("capabilities: %v", capErr))
	}

	t.to(PhaseArbitrating)
	verdict, judgeErrs := m.arbitrate(ctx, sessionID, action, caps, snapshot)

	res, err = m.commitLocked(ctx, w, t, sessionID, action, caps, &judgement{
		verdict:  verdict,
		judgedAt: snapshot.TurnNumber,
		errs:     append(degraded, judgeErrs...),
	})
	t.to(PhaseAwaitingAction)
	res.Phases = t.history
	return res, err
}

// judgement carries a verdict into the locked section.
type judgement struct {
	verdict   world.Verdict
	judgedAt  int
	errs      []string
	skipApply bool // validation rejection; nothing to transition
}

// arbitrate asks the arbiter and returns the verdict plus any degradation notes.
func (m *Manager) arbitrate(ctx context.Context, sessionID string, action world.Action, caps world.CapabilityDescriptor, state *world.WorldState) (world.Verdict, []string) {
	verdict, err := m.judge.Judge(ctx, arbiter.Request{
		SessionID:    sessionID,
		Action:       action,
		Capabilities: caps,
		State:        state,
	})
	if err != nil {
		log.Printf("[Session] Arbiter unavailable for session %s, using fallback verdict: %v", sessionID, err)
		m.logEvent("arbiter_fallback", map[string]interface{}{
			"session_id": sessionID,
			"actor_id":   action.ActorID,
			"error":      err.Error(),
			"outcome":    string(verdict.Outcome),
			"level":      "warn",
		})
		return verdict, []string{fmt.Sprintf("arbiter: %v", err)}
	}
	m.logEvent("verdict_received", map[string]interface{}{
		"session_id": sessionID,
		"actor_id":   action.ActorID,
		"outcome":    string(verdict.Outcome),
		"confidence": verdict.Confidence,
		"source":     verdict.Source,
	})
	return verdict, nil
}

// commitLocked applies the verdict to the real current state and commits the
// ledger entry under the session's writer lock.
func (m *Manager) commitLocked(ctx context.Context, w *writer, t *tracker, sessionID string, action world.Action, caps world.CapabilityDescriptor, j *judgement) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		head, current, err := m.store.CurrentState(ctx, sessionID)
		if err != nil {
			return Result{}, m.storeErr(err)
		}
		if head.Status == world.SessionStatusArchived {
			return Result{}, ErrSessionArchived
		}

		verdict := j.verdict
		judgedAt := j.judgedAt
		errs := append([]string{}, j.errs...)

		if j.skipApply {
			judgedAt = current.TurnNumber
		} else if current.TurnNumber-judgedAt > m.maxStale {
			m.logEvent("action_rejudged", map[string]interface{}{
				"session_id":     sessionID,
				"actor_id":       action.ActorID,
				"judged_at_turn": judgedAt,
				"current_turn":   current.TurnNumber,
			})
			var rejudgeErrs []string
			verdict, rejudgeErrs = m.arbitrate(ctx, sessionID, action, caps, current)
			judgedAt = current.TurnNumber
			errs = append(errs, rejudgeErrs...)
		}

		next, delta := current, world.Delta{}
		if !j.skipApply {
			if verdict.Outcome.Applies() && t.phase == PhaseArbitrating {
				t.to(PhaseTransitioning)
			}
			applied, d, err := world.Apply(current, action, verdict)
			if err != nil {
				// Apply only rejects what validation should already have caught
				verdict = world.Verdict{Outcome: world.OutcomeFailure, Rationale: err.Error(), Confidence: 1, Source: validatorSource}
				errs = append(errs, err.Error())
			} else {
				next, delta = applied, d
			}
		}

		var newState *world.WorldState
		if verdict.Outcome.Applies() {
			hashed, err := world.WithHash(next)
			if err != nil {
				return Result{}, fmt.Errorf("%w: failed to hash state: %v", ErrPersistence, err)
			}
			newState = hashed
		}

		hashAfter := current.Hash
		if newState != nil {
			hashAfter = newState.Hash
		}

		entry, err := world.NewEntry(world.LedgerEntry{
			SessionID:       sessionID,
			TurnNumber:      current.TurnNumber,
			JudgedAtTurn:    judgedAt,
			Capabilities:    caps,
			Action:          action,
			Verdict:         verdict,
			StateHashBefore: current.Hash,
			StateHashAfter:  hashAfter,
			Delta:           delta,
			Errors:          errs,
			CreatedAtMs:     m.now().UnixMilli(),
		}, head.LedgerLength+1, head.LastEntryHash)
		if err != nil {
			return Result{}, fmt.Errorf("%w: failed to seal ledger entry: %v", ErrPersistence, err)
		}

		if t.phase != PhasePersisting {
			t.to(PhasePersisting)
		}
		err = m.store.Commit(ctx, store.Commit{
			SessionID:    sessionID,
			ExpectedTurn: current.TurnNumber,
			Entry:        entry,
			NewState:     newState,
		})
		if errors.Is(err, store.ErrConcurrentWrite) {
			lastErr = err
			m.logEvent("commit_conflict", map[string]interface{}{
				"session_id": sessionID,
				"attempt":    attempt,
				"level":      "warn",
			})
			continue
		}
		if err != nil {
			log.Printf("[Session] Commit failed for session %s: %v", sessionID, err)
			return Result{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}

		turn := current.TurnNumber
		if newState != nil {
			turn = newState.TurnNumber
		}

		// Queued while the writer lock is held so every platform lane sees
		// turns in commit order. Delivery itself runs outside the lock.
		if entry.Applied {
			t.to(PhaseBroadcasting)
			m.broadcaster.Broadcast(ctx, world.StateUpdate{
				SessionID:  sessionID,
				Seq:        entry.Seq,
				TurnNumber: turn,
				StateHash:  hashAfter,
				Delta:      delta,
				ActorID:    action.ActorID,
				Origin:     action.Platform,
			})
		}
		m.logEvent("action_committed", map[string]interface{}{
			"session_id":  sessionID,
			"seq":         entry.Seq,
			"actor_id":    action.ActorID,
			"platform":    action.Platform,
			"action_type": string(action.Type),
			"outcome":     string(verdict.Outcome),
			"applied":     entry.Applied,
			"turn_number": turn,
			"state_hash":  hashAfter,
		})

		return Result{
			Applied:      entry.Applied,
			Verdict:      verdict,
			NewStateHash: hashAfter,
			TurnNumber:   turn,
			Seq:          entry.Seq,
			EntryHash:    entry.EntryHash,
			Errors:       errs,
		}, nil
	}

	return Result{}, fmt.Errorf("%w: %v after %d attempts", ErrPersistence, lastErr, commitAttempts)
}

// ArchiveSession stops the session from accepting actions. New calls are
// rejected at once; calls already in flight finish and are logged before
// the status flips. Archiving an archived session is a no-op.
func (m *Manager) ArchiveSession(ctx context.Context, sessionID string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return m.storeErr(err)
	}

	m.mu.Lock()
	w, ok := m.writers[sessionID]
	if !ok {
		w = &writer{}
		m.writers[sessionID] = w
	}
	w.closing = true
	m.mu.Unlock()

	if session.Status == world.SessionStatusArchived {
		return nil
	}

	m.logEvent("session_archiving", map[string]interface{}{"session_id": sessionID})
	w.inflight.Wait()

	if err := m.store.SetStatus(ctx, sessionID, world.SessionStatusArchived); err != nil {
		m.mu.Lock()
		w.closing = false
		m.mu.Unlock()
		return m.storeErr(err)
	}
	m.broadcaster.Forget(sessionID)

	log.Printf("[Session] Archived session %s", sessionID)
	m.logEvent("session_archived", map[string]interface{}{"session_id": sessionID})
	return nil
}

// CurrentState returns the session's current world state.
func (m *Manager) CurrentState(ctx context.Context, sessionID string) (*world.WorldState, error) {
	_, state, err := m.store.CurrentState(ctx, sessionID)
	if err != nil {
		return nil, m.storeErr(err)
	}
	return state, nil
}

// StateAt returns the world state as of a past turn.
func (m *Manager) StateAt(ctx context.Context, sessionID string, turn int) (*world.WorldState, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, m.storeErr(err)
	}
	if turn < 0 || turn > session.CurrentTurn {
		return nil, fmt.Errorf("%w: %d (current turn is %d)", ErrTurnNotFound, turn, session.CurrentTurn)
	}
	state, err := m.store.GetState(ctx, sessionID, turn)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %d", ErrTurnNotFound, turn)
		}
		return nil, m.storeErr(err)
	}
	return state, nil
}

// Ledger returns ledger entries whose turn number is >= sinceTurn.
func (m *Manager) Ledger(ctx context.Context, sessionID string, sinceTurn int) ([]world.LedgerEntry, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, m.storeErr(err)
	}
	entries, err := m.store.Ledger(ctx, sessionID, sinceTurn)
	if err != nil {
		return nil, m.storeErr(err)
	}
	return entries, nil
}

// Verify checks the full ledger chain and that it ends at the session's
// current state.
func (m *Manager) Verify(ctx context.Context, sessionID string) (world.ChainReport, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return world.ChainReport{}, m.storeErr(err)
	}
	entries, err := m.store.Ledger(ctx, sessionID, 0)
	if err != nil {
		return world.ChainReport{}, m.storeErr(err)
	}
	genesis, err := m.store.GetState(ctx, sessionID, 0)
	if err != nil {
		return world.ChainReport{}, m.storeErr(err)
	}
	return VerifyAgainst(session, genesis, entries), nil
}

// VerifyAgainst runs world.VerifyChain and additionally anchors the chain to
// the genesis state and the session head.
func VerifyAgainst(session *world.GameSession, genesis *world.WorldState, entries []world.LedgerEntry) world.ChainReport {
	report := world.VerifyChain(entries)
	problem := func(seq int, format string, args ...any) {
		report.Valid = false
		report.Problems = append(report.Problems, world.ChainProblem{Seq: seq, Reason: fmt.Sprintf(format, args...)})
	}

	if recomputed, err := world.Hash(genesis); err != nil || recomputed != genesis.Hash {
		problem(0, "genesis state hash does not match its content")
	}

	if len(entries) == 0 {
		report.FinalHash = genesis.Hash
		if session.CurrentTurn != 0 {
			problem(0, "empty ledger but session is at turn %d", session.CurrentTurn)
		}
		if session.CurrentHash != genesis.Hash {
			problem(0, "empty ledger but current hash differs from genesis")
		}
		return report
	}

	first := entries[0]
	if first.Seq != 1 {
		problem(first.Seq, "ledger does not start at seq 1")
	}
	if first.StateHashBefore != genesis.Hash {
		problem(first.Seq, "first entry does not start from the genesis state")
	}
	if first.TurnNumber != 0 {
		problem(first.Seq, "first entry turn %d, expected 0", first.TurnNumber)
	}
	if len(entries) != session.LedgerLength {
		problem(0, "ledger holds %d entries, session records %d", len(entries), session.LedgerLength)
	}
	if report.FinalHash != session.CurrentHash {
		problem(0, "ledger ends at %s, session current hash is %s", report.FinalHash, session.CurrentHash)
	}
	if report.FinalTurn != session.CurrentTurn {
		problem(0, "ledger ends at turn %d, session current turn is %d", report.FinalTurn, session.CurrentTurn)
	}
	if report.Applied != session.CurrentTurn {
		problem(0, "%d applied entries but session is at turn %d", report.Applied, session.CurrentTurn)
	}
	return report
}

// RegisterPlatform binds a platform adapter to an active session.
func (m *Manager) RegisterPlatform(ctx context.Context, sessionID, platform string, adapter broadcast.Adapter) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return m.storeErr(err)
	}
	if session.Status == world.SessionStatusArchived {
		return ErrSessionArchived
	}
	if err := m.store.AddPlatform(ctx, sessionID, platform); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	m.broadcaster.Register(sessionID, platform, adapter)
	return nil
}

// UnregisterPlatform removes a platform binding.
func (m *Manager) UnregisterPlatform(ctx context.Context, sessionID, platform string) error {
	m.broadcaster.Unregister(sessionID, platform)
	if err := m.store.RemovePlatform(ctx, sessionID, platform); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// ReleasePlatform removes the binding only if adapter is still the one bound
// for the platform. A connection replaced by a reconnect releases nothing and
// leaves the platform recorded on the session.
func (m *Manager) ReleasePlatform(ctx context.Context, sessionID, platform string, adapter broadcast.Adapter) error {
	if !m.broadcaster.Release(sessionID, platform, adapter) {
		return nil
	}
	if err := m.store.RemovePlatform(ctx, sessionID, platform); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Drain waits for outstanding broadcast pushes.
func (m *Manager) Drain() {
	m.broadcaster.Wait()
}

// storeErr maps store errors onto the manager's sentinels.
func (m *Manager) storeErr(err error) error {
	if store.IsNotFound(err) {
		return ErrSessionNotFound
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
