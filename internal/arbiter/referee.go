package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/gambit/internal/store"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// replyTTL bounds how long an unread verdict stays in Redis.
const replyTTL = 5 * time.Minute

// RefereeRequest is what a human referee sees in the queue.
type RefereeRequest struct {
	RequestID string  `json:"request_id"`
	Request   Request `json:"request"`
	QueuedAt  int64   `json:"queued_at_ms"`
}

// Referee routes judgements to a human over Redis. Requests are pushed onto
// the namespace queue and the verdict is awaited with BLPOP on a reply key
// unique to the request.
type Referee struct {
	rdb       *redis.Client
	namespace string
}

// NewReferee creates a referee engine on an existing Redis connection.
func NewReferee(rdb *redis.Client, namespace string) *Referee {
	return &Referee{rdb: rdb, namespace: namespace}
}

// Judge implements Arbiter. It blocks until the referee answers or the
// context deadline passes.
func (r *Referee) Judge(ctx context.Context, req Request) (world.Verdict, error) {
	pending := RefereeRequest{
		RequestID: uuid.New().String(),
		Request:   req,
		QueuedAt:  time.Now().UnixMilli(),
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return world.Verdict{}, fmt.Errorf("failed to marshal referee request: %w", err)
	}

	if err := r.rdb.RPush(ctx, store.RefereeQueueKey(r.namespace), data).Err(); err != nil {
		return world.Verdict{}, fmt.Errorf("failed to queue referee request: %w", err)
	}

	replyKey := store.RefereeReplyKey(r.namespace, pending.RequestID)
	result, err := r.rdb.BLPop(ctx, waitFor(ctx), replyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return world.Verdict{}, fmt.Errorf("referee did not answer request %s", pending.RequestID)
		}
		return world.Verdict{}, fmt.Errorf("failed waiting for referee: %w", err)
	}

	// BLPOP returns [key, value]
	var verdict world.Verdict
	if err := json.Unmarshal([]byte(result[1]), &verdict); err != nil {
		return world.Verdict{}, fmt.Errorf("failed to decode referee verdict: %w", err)
	}
	verdict.Source = SourceReferee
	return verdict, nil
}

// NextRequest pops the oldest pending request, waiting up to wait.
// Returns redis.Nil when the queue stayed empty.
func (r *Referee) NextRequest(ctx context.Context, wait time.Duration) (*RefereeRequest, error) {
	result, err := r.rdb.BLPop(ctx, wait, store.RefereeQueueKey(r.namespace)).Result()
	if err != nil {
		return nil, err
	}

	var pending RefereeRequest
	if err := json.Unmarshal([]byte(result[1]), &pending); err != nil {
		return nil, fmt.Errorf("failed to decode referee request: %w", err)
	}
	return &pending, nil
}

// Respond delivers a verdict for a pending request.
func (r *Referee) Respond(ctx context.Context, requestID string, verdict world.Verdict) error {
	if err := verdict.Validate(); err != nil {
		return fmt.Errorf("invalid verdict: %w", err)
	}
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	replyKey := store.RefereeReplyKey(r.namespace, requestID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, replyKey, data)
		pipe.Expire(ctx, replyKey, replyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to deliver verdict: %w", err)
	}
	return nil
}

// waitFor converts the context deadline into a BLPOP timeout. BLPOP treats
// zero as "forever", so the result is never below one second.
func waitFor(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return replyTTL
	}
	remaining := time.Until(deadline)
	if remaining < time.Second {
		return time.Second
	}
	return remaining
}
