package executor

import "fmt"

// State is one step of a request's lifecycle
type State int

const (
	StateInit State = iota
	StateRateLimitWait
	StateCacheLookup
	StateDispatch
	StateInspect
	StateCacheStore
	StateSolve
	StateReplayWithClearance
	StateRotateProxy
	StateBackoff
	StateDone
	StateFail
)

var stateNames = [...]string{
	StateInit:                "init",
	StateRateLimitWait:       "rate_limit_wait",
	StateCacheLookup:         "cache_lookup",
	StateDispatch:            "dispatch",
	StateInspect:             "inspect",
	StateCacheStore:          "cache_store",
	StateSolve:               "solve",
	StateReplayWithClearance: "replay_with_clearance",
	StateRotateProxy:         "rotate_proxy",
	StateBackoff:             "backoff",
	StateDone:                "done",
	StateFail:                "fail",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s
func (s State) Terminal() bool {
	return s == StateDone || s == StateFail
}

// Outcome is what the action performed in a state produced
type Outcome int

const (
	// OutcomeOK means the state's action completed normally
	OutcomeOK Outcome = iota
	OutcomeCacheHit
	OutcomeCacheMiss
	OutcomeChallenge
	OutcomeRateLimited
	OutcomeProxyFailure
	OutcomeNetworkError
	// OutcomeExhausted means a retry was needed but the budget is spent
	OutcomeExhausted
	// OutcomeAbort covers terminal failures: cancellation, no proxy
	// available, an unsolvable challenge
	OutcomeAbort
)

var outcomeNames = [...]string{
	OutcomeOK:           "ok",
	OutcomeCacheHit:     "cache_hit",
	OutcomeCacheMiss:    "cache_miss",
	OutcomeChallenge:    "challenge",
	OutcomeRateLimited:  "rate_limited",
	OutcomeProxyFailure: "proxy_failure",
	OutcomeNetworkError: "network_error",
	OutcomeExhausted:    "exhausted",
	OutcomeAbort:        "abort",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// Transition returns the state that follows s when its action produced o.
// Pairs that cannot occur go to StateFail.
func Transition(s State, o Outcome) State {
	if o == OutcomeAbort || o == OutcomeExhausted || (o == OutcomeNetworkError && s != StateSolve) {
		return StateFail
	}

	switch s {
	case StateInit:
		if o == OutcomeOK {
			return StateRateLimitWait
		}
	case StateRateLimitWait:
		if o == OutcomeOK {
			return StateCacheLookup
		}
	case StateCacheLookup:
		switch o {
		case OutcomeCacheHit:
			return StateDone
		case OutcomeCacheMiss:
			return StateDispatch
		}
	case StateDispatch, StateReplayWithClearance:
		switch o {
		case OutcomeOK:
			return StateInspect
		case OutcomeProxyFailure:
			return StateRotateProxy
		}
	case StateInspect:
		switch o {
		case OutcomeOK:
			return StateCacheStore
		case OutcomeChallenge:
			return StateSolve
		case OutcomeRateLimited:
			return StateBackoff
		}
	case StateCacheStore:
		if o == OutcomeOK {
			return StateDone
		}
	case StateSolve:
		switch o {
		case OutcomeOK:
			return StateReplayWithClearance
		case OutcomeNetworkError:
			// the submission failed in transit; fetch a fresh challenge
			return StateDispatch
		case OutcomeProxyFailure:
			return StateRotateProxy
		}
	case StateRotateProxy, StateBackoff:
		if o == OutcomeOK {
			return StateDispatch
		}
	}
	return StateFail
}
