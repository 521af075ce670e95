// Package watch streams live session activity for the gambit CLI.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/gambit/internal/store"
	"github.com/dyluth/gambit/pkg/world"
)

// OutputFormat selects how updates are printed.
type OutputFormat string

const (
	// OutputFormatDefault prints one human-readable line per update
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON prints one JSON object per line
	OutputFormatJSON OutputFormat = "json"
)

// Updates is the part of a store subscription the streamer reads.
type Updates interface {
	Events() <-chan *world.StateUpdate
	Errors() <-chan error
}

// SessionReader is the part of the store WaitForTurn polls.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*world.GameSession, error)
}

type formatter interface {
	FormatUpdate(update *world.StateUpdate) error
}

func newFormatter(format OutputFormat, w io.Writer) (formatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{encoder: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// Stream prints updates until ctx is cancelled, the subscription closes, or
// limit updates were printed (limit <= 0 means no limit). Subscription
// errors are reported on errOut and do not stop the stream.
func Stream(ctx context.Context, sub Updates, format OutputFormat, limit int, w, errOut io.Writer) (int, error) {
	f, err := newFormatter(format, w)
	if err != nil {
		return 0, err
	}

	count := 0
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return count, nil

		case update, ok := <-sub.Events():
			if !ok {
				return count, nil
			}
			if err := f.FormatUpdate(update); err != nil {
				return count, fmt.Errorf("failed to write update: %w", err)
			}
			count++
			if limit > 0 && count >= limit {
				return count, nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(errOut, "⚠️  %v\n", err)
		}
	}
}

// WaitForTurn polls every 200ms until the session reaches turn, then returns
// its metadata.
func WaitForTurn(ctx context.Context, r SessionReader, sessionID string, turn int, timeout time.Duration) (*world.GameSession, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		s, err := r.GetSession(ctx, sessionID)
		if err != nil && !store.IsNotFound(err) {
			return nil, fmt.Errorf("failed to read session: %w", err)
		}
		if s != nil && s.CurrentTurn >= turn {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for turn %d after %v", turn, timeout)
		case <-ticker.C:
		}
	}
}

type defaultFormatter struct {
	writer io.Writer
}

// FormatUpdate prints "[15:04:05] turn 6 session=… actor=7 via web: moved 7→(3,4)".
func (f *defaultFormatter) FormatUpdate(u *world.StateUpdate) error {
	_, err := fmt.Fprintf(f.writer, "[%s] 🎲 turn %d session=%s actor=%s via %s: %s\n",
		time.Now().Format("15:04:05"), u.TurnNumber, u.SessionID, u.ActorID, u.Origin, describeDelta(u.Delta))
	return err
}

type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) FormatUpdate(u *world.StateUpdate) error {
	return f.encoder.Encode(u)
}

// describeDelta summarizes a delta in a few words.
func describeDelta(d world.Delta) string {
	if d.IsEmpty() {
		return "no changes"
	}

	var parts []string
	actors := make([]string, 0, len(d.Positions))
	for actor := range d.Positions {
		actors = append(actors, actor)
	}
	sort.Strings(actors)
	for _, actor := range actors {
		p := d.Positions[actor]
		parts = append(parts, fmt.Sprintf("moved %s→(%d,%d)", actor, p[0], p[1]))
	}
	for _, e := range d.EffectsAdded {
		parts = append(parts, fmt.Sprintf("%s until turn %d", e.Spell, e.ExpiresAtTurn))
	}
	if n := len(d.EffectsExpired); n > 0 {
		parts = append(parts, fmt.Sprintf("%d effect(s) expired", n))
	}
	owners := make([]string, 0, len(d.ObjectsAdded))
	for owner := range d.ObjectsAdded {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		for _, o := range d.ObjectsAdded[owner] {
			parts = append(parts, fmt.Sprintf("%s built %s", owner, o.Kind))
		}
	}
	for _, i := range d.IntentsAdded {
		parts = append(parts, fmt.Sprintf("%s attacks %s", i.AttackerID, i.TargetID))
	}
	return strings.Join(parts, ", ")
}
