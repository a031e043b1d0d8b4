package alarm

import (
	"fmt"
	"time"
)

// Signal is a reason to scan.
type Signal int

const (
	SignalKeywords Signal = iota // keyword list changed
	SignalNavigate               // URL changed without a reload
	SignalReset                  // manual reset
	SignalLoad                   // page finished loading
	SignalMutation               // document tree changed
	SignalScroll
	SignalResize
	SignalForce // explicit rescan request
)

var signalNames = [...]string{
	SignalKeywords: "keywords",
	SignalNavigate: "navigate",
	SignalReset:    "reset",
	SignalLoad:     "load",
	SignalMutation: "mutation",
	SignalScroll:   "scroll",
	SignalResize:   "resize",
	SignalForce:    "force",
}

func (s Signal) String() string {
	if s >= 0 && int(s) < len(signalNames) {
		return signalNames[s]
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// ParseSignal is the inverse of Signal.String.
func ParseSignal(name string) (Signal, error) {
	for i, n := range signalNames {
		if n == name {
			return Signal(i), nil
		}
	}
	return 0, fmt.Errorf("alarm: unknown signal %q", name)
}

// Delays maps each signal to the quiet period before the scan it requests.
type Delays map[Signal]time.Duration

// DefaultDelays returns the stock debounce delays.
func DefaultDelays() Delays {
	return Delays{
		SignalKeywords: 0,
		SignalNavigate: 0,
		SignalReset:    0,
		SignalLoad:     200 * time.Millisecond,
		SignalMutation: 300 * time.Millisecond,
		SignalScroll:   600 * time.Millisecond,
		SignalResize:   800 * time.Millisecond,
		SignalForce:    120 * time.Millisecond,
	}
}

// Of returns the delay of s; unknown signals use the SignalForce delay.
func (d Delays) Of(s Signal) time.Duration {
	if v, ok := d[s]; ok {
		return v
	}
	return DefaultDelays()[SignalForce]
}

// State is the coordinator's scheduling state.
type State int

const (
	Idle     State = iota // nothing scheduled
	Pending               // a scan is scheduled
	Scanning              // a cycle is running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Scanning:
		return "scanning"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
