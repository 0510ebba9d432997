// Package protocol drives one download session with a dive computer:
// open the link, handshake and identify the device, transfer its log
// memory and close. Device families plug in as a Variant; the Machine owns
// the state, retries, cancellation, progress and the Connection.
//
//	Idle -> Handshaking -> Identified -> Transferring -> Complete
//
// Any state may move to Failed. A Machine runs once.
package protocol

import "fmt"

type State int32

const (
	Idle State = iota
	Handshaking
	Identified
	Transferring
	Complete
	Failed
)

var stateNames = [...]string{
	Idle:         "idle",
	Handshaking:  "handshaking",
	Identified:   "identified",
	Transferring: "transferring",
	Complete:     "complete",
	Failed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool { return s == Complete || s == Failed }
