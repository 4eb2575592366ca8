package purchase

type State string

const (
	StateIdle           State = "IDLE"
	StateRouteLoading   State = "ROUTE_LOADING"
	StateRouteLoaded    State = "ROUTE_LOADED"
	StateReserving      State = "RESERVING"
	StateReserved       State = "RESERVED"
	StateIntentCreating State = "INTENT_CREATING"
	StateIntentReady    State = "INTENT_READY"
	StateConfirming     State = "CONFIRMING"
	StateCaptured       State = "CAPTURED"
	StateFailed         State = "FAILED"
)

// allowedTransitions is the forward path plus the failure edge out of every
// non-terminal state.
var allowedTransitions = map[State][]State{
	StateIdle:           {StateRouteLoading},
	StateRouteLoading:   {StateRouteLoaded, StateFailed},
	StateRouteLoaded:    {StateReserving, StateFailed},
	StateReserving:      {StateReserved, StateFailed},
	StateReserved:       {StateIntentCreating, StateFailed},
	StateIntentCreating: {StateIntentReady, StateFailed},
	StateIntentReady:    {StateConfirming, StateFailed},
	StateConfirming:     {StateCaptured, StateFailed},
	StateCaptured:       {},
	StateFailed:         {},
}

func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateCaptured || s == StateFailed
}
