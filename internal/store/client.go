// Package store persists Gambit sessions in Redis: per-turn world state
// versions, the append-only hash-chained ledger, session metadata holding the
// current-turn pointer, and the Pub/Sub channels used for fan-out.
//
// All keys and channels are namespaced so several deployments can share one
// Redis server.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dyluth/gambit/pkg/world"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionExists is returned when creating a session whose ID is taken.
	ErrSessionExists = errors.New("session already exists")

	// ErrConcurrentWrite is returned when the session head moved between
	// reading it and committing. Nothing was written.
	ErrConcurrentWrite = errors.New("session head changed during commit")
)

// Client provides namespaced Redis operations for sessions, states and ledgers.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient creates a new store client for the specified namespace.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - namespace: deployment identifier (must not be empty)
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// Namespace returns the key namespace this client writes under.
func (c *Client) Namespace() string {
	return c.namespace
}

// Redis exposes the underlying connection for components that share it
// (the referee arbiter queue).
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CreateSession writes session metadata and the turn-0 state atomically.
// The genesis state must already carry its hash.
func (c *Client) CreateSession(ctx context.Context, session *world.GameSession, genesis *world.WorldState) error {
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if genesis == nil || genesis.Hash == "" {
		return fmt.Errorf("genesis state must be hashed before it is stored")
	}

	stateJSON, err := EncodeState(genesis)
	if err != nil {
		return err
	}

	metaKey := SessionKey(c.namespace, session.ID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, metaKey).Result()
		if err != nil {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		if exists > 0 {
			return ErrSessionExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, metaKey, SessionToHash(session))
			pipe.Set(ctx, StateKey(c.namespace, session.ID, genesis.TurnNumber), stateJSON, 0)
			pipe.SAdd(ctx, SessionsKey(c.namespace), session.ID)
			return nil
		})
		return err
	}, metaKey)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrSessionExists
	}
	if err != nil && !errors.Is(err, ErrSessionExists) {
		return fmt.Errorf("failed to write session to Redis: %w", err)
	}
	return err
}

// GetSession retrieves session metadata and its platform bindings.
// Returns (nil, redis.Nil) if the session doesn't exist.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*world.GameSession, error) {
	hashData, err := c.rdb.HGetAll(ctx, SessionKey(c.namespace, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	session, err := HashToSession(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}

	platforms, err := c.rdb.SMembers(ctx, PlatformsKey(c.namespace, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read platforms: %w", err)
	}
	sort.Strings(platforms)
	session.Platforms = platforms

	return session, nil
}

// ListSessions returns every session ID in the namespace, sorted.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, SessionsKey(c.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// SetStatus updates a session's lifecycle status.
func (c *Client) SetStatus(ctx context.Context, sessionID string, status world.SessionStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	key := SessionKey(c.namespace, sessionID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	if exists == 0 {
		return redis.Nil
	}
	if err := c.rdb.HSet(ctx, key, "status", string(status)).Err(); err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// AddPlatform records a platform binding for a session.
func (c *Client) AddPlatform(ctx context.Context, sessionID, platform string) error {
	if err := c.rdb.SAdd(ctx, PlatformsKey(c.namespace, sessionID), platform).Err(); err != nil {
		return fmt.Errorf("failed to add platform: %w", err)
	}
	return nil
}

// RemovePlatform removes a platform binding from a session.
func (c *Client) RemovePlatform(ctx context.Context, sessionID, platform string) error {
	if err := c.rdb.SRem(ctx, PlatformsKey(c.namespace, sessionID), platform).Err(); err != nil {
		return fmt.Errorf("failed to remove platform: %w", err)
	}
	return nil
}

// GetState retrieves the world state version for a turn.
// Returns (nil, redis.Nil) if that version doesn't exist.
func (c *Client) GetState(ctx context.Context, sessionID string, turn int) (*world.WorldState, error) {
	data, err := c.rdb.Get(ctx, StateKey(c.namespace, sessionID, turn)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read state from Redis: %w", err)
	}
	return DecodeState(data)
}

// CurrentState returns the session metadata together with the state its
// current-turn pointer refers to.
func (c *Client) CurrentState(ctx context.Context, sessionID string) (*world.GameSession, *world.WorldState, error) {
	session, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	state, err := c.GetState(ctx, sessionID, session.CurrentTurn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load current state for turn %d: %w", session.CurrentTurn, err)
	}
	return session, state, nil
}

// Commit is one atomic step of a session: a ledger entry and, when the
// entry was applied, the new current state.
type Commit struct {
	SessionID    string
	ExpectedTurn int               // Current turn the entry was built against
	Entry        world.LedgerEntry // Sealed entry (Seq, PrevEntryHash, EntryHash set)
	NewState     *world.WorldState // nil unless Entry.Applied
}

// Commit appends the ledger entry and advances the current-turn pointer in
// one MULTI/EXEC guarded by WATCH on the session metadata.
//
// The commit is rejected with ErrConcurrentWrite if the session head (turn,
// ledger length or last entry hash) no longer matches what the entry was
// built against. Appending an entry whose hash is already indexed is a no-op,
// so retrying a commit that already landed is safe.
func (c *Client) Commit(ctx context.Context, commit Commit) error {
	entry := commit.Entry
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid ledger entry: %w", err)
	}
	if entry.Applied != (commit.NewState != nil) {
		return fmt.Errorf("applied entries require a new state and failed ones must not carry one")
	}
	if commit.NewState != nil {
		if commit.NewState.TurnNumber != commit.ExpectedTurn+1 {
			return fmt.Errorf("new state turn %d does not follow turn %d", commit.NewState.TurnNumber, commit.ExpectedTurn)
		}
		if commit.NewState.Hash != entry.StateHashAfter {
			return fmt.Errorf("new state hash does not match the entry's state_hash_after")
		}
	}

	entryJSON, err := EncodeEntry(&entry)
	if err != nil {
		return err
	}
	var stateJSON string
	if commit.NewState != nil {
		if stateJSON, err = EncodeState(commit.NewState); err != nil {
			return err
		}
	}

	metaKey := SessionKey(c.namespace, commit.SessionID)
	indexKey := LedgerIndexKey(c.namespace, commit.SessionID)

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		dup, err := tx.HExists(ctx, indexKey, entry.EntryHash).Result()
		if err != nil {
			return fmt.Errorf("failed to check ledger index: %w", err)
		}
		if dup {
			return nil
		}

		hashData, err := tx.HGetAll(ctx, metaKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read session head: %w", err)
		}
		if len(hashData) == 0 {
			return redis.Nil
		}
		head, err := HashToSession(hashData)
		if err != nil {
			return err
		}
		if head.CurrentTurn != commit.ExpectedTurn ||
			head.LedgerLength != entry.Seq-1 ||
			head.LastEntryHash != entry.PrevEntryHash ||
			head.CurrentHash != entry.StateHashBefore {
			return ErrConcurrentWrite
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, LedgerKey(c.namespace, commit.SessionID), entryJSON)
			pipe.HSet(ctx, indexKey, entry.EntryHash, entry.Seq)
			fields := map[string]interface{}{
				"ledger_length":   entry.Seq,
				"last_entry_hash": entry.EntryHash,
			}
			if commit.NewState != nil {
				pipe.Set(ctx, StateKey(c.namespace, commit.SessionID, commit.NewState.TurnNumber), stateJSON, 0)
				fields["current_turn"] = commit.NewState.TurnNumber
				fields["current_hash"] = commit.NewState.Hash
			}
			pipe.HSet(ctx, metaKey, fields)
			return nil
		})
		return err
	}, metaKey, indexKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrConcurrentWrite):
		return ErrConcurrentWrite
	case errors.Is(err, redis.Nil):
		return redis.Nil
	default:
		return fmt.Errorf("failed to commit ledger entry: %w", err)
	}
}

// Ledger returns the session's ledger in append order, keeping entries whose
// turn number is >= sinceTurn.
func (c *Client) Ledger(ctx context.Context, sessionID string, sinceTurn int) ([]world.LedgerEntry, error) {
	raw, err := c.rdb.LRange(ctx, LedgerKey(c.namespace, sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger from Redis: %w", err)
	}

	entries := make([]world.LedgerEntry, 0, len(raw))
	for i, data := range raw {
		entry, err := DecodeEntry(data)
		if err != nil {
			return nil, fmt.Errorf("ledger entry %d: %w", i+1, err)
		}
		if entry.TurnNumber < sinceTurn {
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// GetEntry retrieves a ledger entry by its full entry hash.
// Returns (nil, redis.Nil) if no entry has that hash.
func (c *Client) GetEntry(ctx context.Context, sessionID, entryHash string) (*world.LedgerEntry, error) {
	seqStr, err := c.rdb.HGet(ctx, LedgerIndexKey(c.namespace, sessionID), entryHash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read ledger index: %w", err)
	}
	seq, err := strconv.Atoi(seqStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt ledger index for %s: %w", entryHash, err)
	}

	data, err := c.rdb.LIndex(ctx, LedgerKey(c.namespace, sessionID), int64(seq-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entry %d: %w", seq, err)
	}
	return DecodeEntry(data)
}

// ScanEntryHashes returns indexed entry hashes whose hex digest starts with
// prefix. The "sha256:" tag is optional in prefix.
func (c *Client) ScanEntryHashes(ctx context.Context, sessionID, prefix string) ([]string, error) {
	hashes, err := c.rdb.HKeys(ctx, LedgerIndexKey(c.namespace, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger index: %w", err)
	}
	prefix = strings.TrimPrefix(prefix, world.HashPrefix)

	var matches []string
	for _, h := range hashes {
		if strings.HasPrefix(strings.TrimPrefix(h, world.HashPrefix), prefix) {
			matches = append(matches, h)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// PublishUpdate publishes a state update on the session's updates channel.
// Redis Pub/Sub is at-most-once; subscribers that miss updates resync from state.
func (c *Client) PublishUpdate(ctx context.Context, update world.StateUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal state update: %w", err)
	}
	if err := c.rdb.Publish(ctx, UpdatesChannel(c.namespace, update.SessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish state update: %w", err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription to state updates.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *world.StateUpdate
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of state updates.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *world.StateUpdate {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeUpdates subscribes to state updates for one session, or for every
// session in the namespace when sessionID is empty.
//
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub drops
// messages for slow subscribers (at-most-once delivery).
func (c *Client) SubscribeUpdates(ctx context.Context, sessionID string) (*Subscription, error) {
	var pubsub *redis.PubSub
	if sessionID == "" {
		pubsub = c.rdb.PSubscribe(ctx, UpdatesPattern(c.namespace))
	} else {
		pubsub = c.rdb.Subscribe(ctx, UpdatesChannel(c.namespace, sessionID))
	}

	// Wait for the subscription to be confirmed so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to updates: %w", err)
	}

	eventsChan := make(chan *world.StateUpdate, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var update world.StateUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal state update: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &update:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
