// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import "fmt"

// State is the position of the engine within one user turn.
type State int

const (
	// StateIdle means no turn is running.
	StateIdle State = iota

	// StateAwaitingFirstReply means round one has been sent to the model.
	StateAwaitingFirstReply

	// StateResponding means a final text reply is being recorded and projected.
	StateResponding

	// StateExecutingTools means the requested tool calls are being dispatched.
	StateExecutingTools

	// StateAwaitingSecondReply means the tool results have been sent back to the model.
	StateAwaitingSecondReply

	// StateAborted is terminal: the history is no longer trustworthy.
	StateAborted
)

var stateNames = map[State]string{
	StateIdle:                "idle",
	StateAwaitingFirstReply:  "awaiting_first_reply",
	StateResponding:          "responding",
	StateExecutingTools:      "executing_tools",
	StateAwaitingSecondReply: "awaiting_second_reply",
	StateAborted:             "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets State appear by name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal moves. Any state may move to StateAborted.
var transitions = map[State][]State{
	StateIdle:                {StateAwaitingFirstReply},
	StateAwaitingFirstReply:  {StateResponding, StateExecutingTools, StateIdle},
	StateResponding:          {StateIdle},
	StateExecutingTools:      {StateAwaitingSecondReply},
	StateAwaitingSecondReply: {StateResponding, StateIdle},
}

func canTransition(from, to State) bool {
	if to == StateAborted {
		return from != StateAborted
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
