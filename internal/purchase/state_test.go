package purchase

import "testing"

func TestCanTransition(t *testing.T) {
	forward := []State{
		StateIdle, StateRouteLoading, StateRouteLoaded, StateReserving, StateReserved,
		StateIntentCreating, StateIntentReady, StateConfirming, StateCaptured,
	}
	for i := 0; i+1 < len(forward); i++ {
		if !CanTransition(forward[i], forward[i+1]) {
			t.Errorf("expected %s -> %s to be allowed", forward[i], forward[i+1])
		}
	}
	for _, s := range forward[1 : len(forward)-1] {
		if !CanTransition(s, StateFailed) {
			t.Errorf("expected %s -> FAILED to be allowed", s)
		}
	}
	if CanTransition(StateIdle, StateFailed) {
		t.Error("idle pipeline has no step that can fail")
	}
	if CanTransition(StateRouteLoaded, StateIntentCreating) {
		t.Error("skipping the reservation must not be allowed")
	}
	if CanTransition(StateCaptured, StateFailed) || CanTransition(StateFailed, StateIdle) {
		t.Error("terminal states must not transition")
	}
}
