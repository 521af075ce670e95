package store

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced so multiple orchestrator
// deployments can share one Redis server without interference.
//
// Key pattern: gambit:{namespace}:session:{session_id}[:{entity}]
// Channel pattern: gambit:{namespace}:session:{session_id}:updates

// SessionsKey returns the Redis key for the set of all session IDs.
// Pattern: gambit:{namespace}:sessions
func SessionsKey(namespace string) string {
	return fmt.Sprintf("gambit:%s:sessions", namespace)
}

// SessionKey returns the Redis key for a session's metadata hash.
// Pattern: gambit:{namespace}:session:{session_id}
func SessionKey(namespace, sessionID string) string {
	return fmt.Sprintf("gambit:%s:session:%s", namespace, sessionID)
}

// StateKey returns the Redis key for one WorldState version.
// Pattern: gambit:{namespace}:session:{session_id}:state:{turn}
func StateKey(namespace, sessionID string, turn int) string {
	return fmt.Sprintf("gambit:%s:session:%s:state:%d", namespace, sessionID, turn)
}

// LedgerKey returns the Redis key for a session's append-only ledger list.
// Pattern: gambit:{namespace}:session:{session_id}:ledger
func LedgerKey(namespace, sessionID string) string {
	return fmt.Sprintf("gambit:%s:session:%s:ledger", namespace, sessionID)
}

// LedgerIndexKey returns the Redis key for the entry hash -> seq index.
// The index doubles as the dedup check on append.
// Pattern: gambit:{namespace}:session:{session_id}:ledger_index
func LedgerIndexKey(namespace, sessionID string) string {
	return fmt.Sprintf("gambit:%s:session:%s:ledger_index", namespace, sessionID)
}

// PlatformsKey returns the Redis key for a session's registered platform set.
// Pattern: gambit:{namespace}:session:{session_id}:platforms
func PlatformsKey(namespace, sessionID string) string {
	return fmt.Sprintf("gambit:%s:session:%s:platforms", namespace, sessionID)
}

// UpdatesChannel returns the Pub/Sub channel carrying a session's state updates.
// Pattern: gambit:{namespace}:session:{session_id}:updates
func UpdatesChannel(namespace, sessionID string) string {
	return fmt.Sprintf("gambit:%s:session:%s:updates", namespace, sessionID)
}

// UpdatesPattern returns the Pub/Sub pattern matching every session's updates.
// Pattern: gambit:{namespace}:session:*:updates
func UpdatesPattern(namespace string) string {
	return fmt.Sprintf("gambit:%s:session:*:updates", namespace)
}

// RefereeQueueKey returns the list that human referees pop judgement requests from.
// Pattern: gambit:{namespace}:referee:requests
func RefereeQueueKey(namespace string) string {
	return fmt.Sprintf("gambit:%s:referee:requests", namespace)
}

// RefereeReplyKey returns the list a referee pushes its verdict onto.
// Pattern: gambit:{namespace}:referee:reply:{request_id}
func RefereeReplyKey(namespace, requestID string) string {
	return fmt.Sprintf("gambit:%s:referee:reply:%s", namespace, requestID)
}
