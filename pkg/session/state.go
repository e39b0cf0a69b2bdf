package session

import (
	"errors"
	"fmt"

	"github.com/opentrv/otprovision/pkg/resolve"
)

// State is a step of the provisioning workflow.
type State int

// States in workflow order.
const (
	Idle State = iota
	Resolved
	Reset
	PromptReady
	DelaySet
	IDCleared
	IDAcquired
	KeySet
	KeyVerified
	Succeeded
	Failed
)

var stateNames = [...]string{
	Idle:        "Idle",
	Resolved:    "Resolved",
	Reset:       "Reset",
	PromptReady: "PromptReady",
	DelaySet:    "DelaySet",
	IDCleared:   "IdCleared",
	IDAcquired:  "IdAcquired",
	KeySet:      "KeySet",
	KeyVerified: "KeyVerified",
	Succeeded:   "Succeeded",
	Failed:      "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

var (
	// ErrNoKey indicates the key store has no key for the serial number.
	ErrNoKey = errors.New("no key for serial number")
	// ErrDeviceNotFound indicates the REV7 banner was not seen after power up.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrNoID indicates no valid identity was read within the attempts.
	ErrNoID = errors.New("could not get device ID")
	// ErrKeyMismatch indicates the device echoed a different key.
	ErrKeyMismatch = errors.New("key does not match")
	// ErrNoMatch indicates the secondary device never reported the identity.
	ErrNoMatch = errors.New("identity not seen on secondary link")
)

// FatalError aborts a session. Power is off once it is returned.
type FatalError struct {
	// State is the last state reached.
	State State
	Err   error
}

// Error implements error.
func (e *FatalError) Error() string {
	return fmt.Sprintf("aborted after %s: %v", e.State, e.Err)
}

// Unwrap returns the cause.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Outcome is the terminal result of a session.
type Outcome struct {
	State        State
	SerialNumber string
	Key          string
	ID           string
	// DelayEcho is the start delay reported back by the device.
	DelayEcho  string
	Resolution resolve.Verdict
	// Reason is set for failures.
	Reason string
}

// Succeeded reports whether the device was provisioned and verified.
func (o Outcome) Succeeded() bool {
	return o.State == Succeeded
}
