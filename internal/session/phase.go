package session

import (
	"encoding/json"
	"log"
	"time"
)

// Phase is a step of the per-action state machine.
type Phase string

const (
	PhaseAwaitingAction Phase = "awaiting_action"
	PhaseValidating     Phase = "validating"
	PhaseArbitrating    Phase = "arbitrating"
	PhaseTransitioning  Phase = "transitioning"
	PhasePersisting     Phase = "persisting"
	PhaseBroadcasting   Phase = "broadcasting"
)

// allowedTransitions lists the legal successors of each phase. Validation
// rejections and failure verdicts skip straight to Persisting.
var allowedTransitions = map[Phase][]Phase{
	PhaseAwaitingAction: {PhaseValidating},
	PhaseValidating:     {PhaseArbitrating, PhasePersisting, PhaseAwaitingAction},
	PhaseArbitrating:    {PhaseTransitioning, PhasePersisting, PhaseAwaitingAction},
	PhaseTransitioning:  {PhasePersisting, PhaseAwaitingAction},
	PhasePersisting:     {PhaseBroadcasting, PhaseAwaitingAction},
	PhaseBroadcasting:   {PhaseAwaitingAction},
}

// CanTransition reports whether next may follow from.
func CanTransition(from, next Phase) bool {
	for _, p := range allowedTransitions[from] {
		if p == next {
			return true
		}
	}
	return false
}

// tracker follows one ProcessAction call through the state machine and
// emits a structured event on every transition.
type tracker struct {
	m         *Manager
	sessionID string
	actorID   string
	phase     Phase
	history   []Phase
}

func (m *Manager) track(sessionID, actorID string) *tracker {
	return &tracker{m: m, sessionID: sessionID, actorID: actorID, phase: PhaseAwaitingAction, history: []Phase{PhaseAwaitingAction}}
}

func (t *tracker) to(next Phase) {
	if !CanTransition(t.phase, next) {
		log.Printf("[Session] Illegal phase transition %s -> %s for session %s", t.phase, next, t.sessionID)
	}
	t.m.logEvent("phase_transition", map[string]interface{}{
		"session_id": t.sessionID,
		"actor_id":   t.actorID,
		"from":       string(t.phase),
		"to":         string(next),
	})
	t.phase = next
	t.history = append(t.history, next)
}

func (m *Manager) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if _, ok := data["level"]; !ok {
		data["level"] = "info"
	}
	data["component"] = "session"
	data["event_type"] = eventType
	data["namespace"] = m.namespace

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Session] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
