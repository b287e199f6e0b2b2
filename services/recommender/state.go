// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package recommender

// State tracks one recommendation request through its lifecycle.
//
// # State Diagram
//
//	REQUESTED → CANDIDATE_GENERATED → ANALYZED → ACCEPTED ──────→ DONE
//	                  ↑                    │
//	                  │                    ├─→ REGENERATING ─┐
//	                  └────────────────────┴←────────────────┘
//	                                       │
//	                                       └─→ FALLBACK ─────→ DONE
type State int

const (
	StateRequested State = iota
	StateCandidateGenerated
	StateAnalyzed
	StateAccepted
	StateRegenerating
	StateFallback
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "REQUESTED"
	case StateCandidateGenerated:
		return "CANDIDATE_GENERATED"
	case StateAnalyzed:
		return "ANALYZED"
	case StateAccepted:
		return "ACCEPTED"
	case StateRegenerating:
		return "REGENERATING"
	case StateFallback:
		return "FALLBACK"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText makes State render as its name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition is one observed state change, suitable for streaming to
// clients watching a request.
type Transition struct {
	RequestID string `json:"request_id"`
	From      State  `json:"from"`
	To        State  `json:"to"`
	Attempt   int    `json:"attempt"`
}

// TransitionFunc observes state changes. Observers run synchronously on
// the request goroutine and must return quickly; they cannot influence
// the transition.
type TransitionFunc func(t Transition)
