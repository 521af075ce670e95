// Package broadcast fans committed state updates out to every platform bound
// to a session. Each binding has its own delivery lane: updates reach one
// platform in the order they were broadcast, while a slow or dead platform
// never delays the others or the caller. Failed pushes are logged and
// dropped; platforms resync by pulling the full state.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/gambit/pkg/world"
)

// DefaultPushTimeout bounds a single push when none is configured.
const DefaultPushTimeout = time.Second

// MaxPendingPushes bounds the backlog of one delivery lane. Updates beyond it
// are dropped for that platform only.
const MaxPendingPushes = 64

// Adapter delivers updates to one platform.
type Adapter interface {
	Push(ctx context.Context, update world.StateUpdate) error
}

// Presence is implemented by adapters that know whether their platform is
// reachable. Offline adapters are skipped.
type Presence interface {
	Online() bool
}

// binding is one registered adapter and its delivery lane.
type binding struct {
	name    string
	adapter Adapter

	mu      sync.Mutex
	pending []world.StateUpdate
	running bool
	dropped uint64
}

// Broadcaster holds the adapter registry.
type Broadcaster struct {
	mu          sync.RWMutex
	sessions    map[string]map[string]*binding // session_id -> platform -> binding
	sinks       map[string]*binding            // receive every session's updates
	pushTimeout time.Duration
	namespace   string
	wg          sync.WaitGroup
}

// New creates an empty broadcaster.
func New(namespace string, pushTimeout time.Duration) *Broadcaster {
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	return &Broadcaster{
		sessions:    make(map[string]map[string]*binding),
		sinks:       make(map[string]*binding),
		pushTimeout: pushTimeout,
		namespace:   namespace,
	}
}

// Register binds a platform adapter to a session, replacing any previous
// adapter for the same platform.
func (b *Broadcaster) Register(sessionID, platform string, adapter Adapter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	platforms, ok := b.sessions[sessionID]
	if !ok {
		platforms = make(map[string]*binding)
		b.sessions[sessionID] = platforms
	}
	_, replaced := platforms[platform]
	platforms[platform] = &binding{name: platform, adapter: adapter}

	b.logEvent("platform_registered", map[string]interface{}{
		"session_id": sessionID,
		"platform":   platform,
		"replaced":   replaced,
	})
}

// Unregister removes a platform binding whatever adapter it holds. It
// returns false if none existed.
func (b *Broadcaster) Unregister(sessionID, platform string) bool {
	return b.remove(sessionID, platform, nil)
}

// Release removes the platform binding only while it still holds adapter.
// A connection that was replaced by a newer one for the same platform
// releases nothing and gets false.
func (b *Broadcaster) Release(sessionID, platform string, adapter Adapter) bool {
	return b.remove(sessionID, platform, func(current Adapter) bool {
		return sameAdapter(current, adapter)
	})
}

func (b *Broadcaster) remove(sessionID, platform string, match func(Adapter) bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	platforms, ok := b.sessions[sessionID]
	if !ok {
		return false
	}
	bound, ok := platforms[platform]
	if !ok {
		return false
	}
	if match != nil && !match(bound.adapter) {
		b.logEvent("platform_release_skipped", map[string]interface{}{
			"session_id": sessionID,
			"platform":   platform,
			"reason":     "replaced",
		})
		return false
	}
	delete(platforms, platform)
	if len(platforms) == 0 {
		delete(b.sessions, sessionID)
	}

	b.logEvent("platform_unregistered", map[string]interface{}{
		"session_id": sessionID,
		"platform":   platform,
	})
	return true
}

// sameAdapter reports whether a and b are the same registration. Func
// adapters compare by code pointer.
func sameAdapter(a, b Adapter) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return false
}

// Forget drops every binding for a session.
func (b *Broadcaster) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// Attach adds a sink that receives updates for every session.
func (b *Broadcaster) Attach(name string, adapter Adapter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[name] = &binding{name: "sink:" + name, adapter: adapter}
}

// Platforms lists the platforms bound to a session in sorted order.
func (b *Broadcaster) Platforms(sessionID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.sessions[sessionID]))
	for name := range b.sessions[sessionID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Broadcast queues the update on the lane of every online adapter of the
// session and of every sink, and returns at once with the number queued.
// Each lane delivers in broadcast order. The pushes outlive ctx's
// cancellation but keep its values.
func (b *Broadcaster) Broadcast(ctx context.Context, update world.StateUpdate) int {
	b.mu.RLock()
	targets := make([]*binding, 0, len(b.sessions[update.SessionID])+len(b.sinks))
	for _, bound := range b.sessions[update.SessionID] {
		targets = append(targets, bound)
	}
	for _, bound := range b.sinks {
		targets = append(targets, bound)
	}
	b.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	dispatched := 0
	for _, bound := range targets {
		if p, ok := bound.adapter.(Presence); ok && !p.Online() {
			b.logEvent("push_skipped", map[string]interface{}{
				"session_id": update.SessionID,
				"platform":   bound.name,
				"reason":     "offline",
			})
			continue
		}
		if b.enqueue(base, bound, update) {
			dispatched++
		}
	}
	return dispatched
}

// enqueue appends to the lane and starts its drainer if idle.
func (b *Broadcaster) enqueue(base context.Context, bound *binding, update world.StateUpdate) bool {
	bound.mu.Lock()
	if len(bound.pending) >= MaxPendingPushes {
		bound.dropped++
		dropped := bound.dropped
		bound.mu.Unlock()
		// Logged on the 1st, 2nd, 4th, 8th... drop for this lane
		if dropped&(dropped-1) == 0 {
			log.Printf("[Broadcast] Dropping update for %s on session %s (dropped=%d limit=%d)",
				bound.name, update.SessionID, dropped, MaxPendingPushes)
			b.logEvent("push_dropped", map[string]interface{}{
				"session_id":  update.SessionID,
				"platform":    bound.name,
				"turn_number": update.TurnNumber,
				"dropped":     dropped,
			})
		}
		return false
	}
	b.wg.Add(1)
	bound.pending = append(bound.pending, update)
	start := !bound.running
	bound.running = true
	bound.mu.Unlock()

	if start {
		go b.drain(base, bound)
	}
	return true
}

// drain delivers the lane's backlog in order and exits when it is empty.
func (b *Broadcaster) drain(base context.Context, bound *binding) {
	for {
		bound.mu.Lock()
		if len(bound.pending) == 0 {
			bound.running = false
			bound.mu.Unlock()
			return
		}
		update := bound.pending[0]
		bound.pending = bound.pending[1:]
		bound.mu.Unlock()

		b.push(base, bound.name, bound.adapter, update)
		b.wg.Done()
	}
}

func (b *Broadcaster) push(base context.Context, name string, adapter Adapter, update world.StateUpdate) {
	ctx, cancel := context.WithTimeout(base, b.pushTimeout)
	defer cancel()

	start := time.Now()
	if err := safePush(ctx, adapter, update); err != nil {
		log.Printf("[Broadcast] Push to %s for session %s failed: %v", name, update.SessionID, err)
		b.logEvent("push_failed", map[string]interface{}{
			"session_id":  update.SessionID,
			"platform":    name,
			"turn_number": update.TurnNumber,
			"error":       err.Error(),
		})
		return
	}

	b.logEvent("push_delivered", map[string]interface{}{
		"session_id":  update.SessionID,
		"platform":    name,
		"turn_number": update.TurnNumber,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// safePush turns a panicking adapter into a failed push.
func safePush(ctx context.Context, adapter Adapter, update world.StateUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panicked: %v", r)
		}
	}()
	return adapter.Push(ctx, update)
}

// Wait blocks until every dispatched push has finished.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

func (b *Broadcaster) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	if eventType == "push_failed" || eventType == "push_dropped" {
		data["level"] = "warn"
	}
	data["component"] = "broadcast"
	data["event_type"] = eventType
	data["namespace"] = b.namespace

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Broadcast] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
