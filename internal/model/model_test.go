package model

import "testing"

var allStatuses = []CycleStatus{
	CyclePendingConfirmation,
	CycleConfirmed,
	CycleActive,
	CycleCompleted,
	CycleCancelled,
	CycleTimeout,
}

func TestCanTransitionTo_ExhaustiveTable(t *testing.T) {
	allowed := map[CycleStatus]map[CycleStatus]bool{
		CyclePendingConfirmation: {CycleConfirmed: true, CycleCancelled: true, CycleTimeout: true},
		CycleConfirmed:           {CycleActive: true, CycleCancelled: true},
		CycleActive:              {CycleCompleted: true, CycleCancelled: true},
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[from][to]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("CanTransitionTo(%s → %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanTransitionTo_PendingOnlyLeavesThreeWays(t *testing.T) {
	// From pending_confirmation the only legal exits are confirmed,
	// cancelled, and timeout; everything else must be rejected.
	exits := 0
	for _, to := range allStatuses {
		if CyclePendingConfirmation.CanTransitionTo(to) {
			exits++
		}
	}
	if exits != 3 {
		t.Errorf("pending_confirmation has %d legal exits, want 3", exits)
	}
	if CyclePendingConfirmation.CanTransitionTo(CycleActive) {
		t.Error("pending_confirmation → active must be rejected")
	}
	if CyclePendingConfirmation.CanTransitionTo(CycleCompleted) {
		t.Error("pending_confirmation → completed must be rejected")
	}
	if CyclePendingConfirmation.CanTransitionTo(CyclePendingConfirmation) {
		t.Error("pending_confirmation → pending_confirmation must be rejected")
	}
}

func TestTerminal_BlocksAllTransitions(t *testing.T) {
	for _, from := range allStatuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range allStatuses {
			if from.CanTransitionTo(to) {
				t.Errorf("terminal status %s allows transition to %s", from, to)
			}
		}
	}
}

func TestTerminal(t *testing.T) {
	cases := map[CycleStatus]bool{
		CyclePendingConfirmation: false,
		CycleConfirmed:           false,
		CycleActive:              false,
		CycleCompleted:           true,
		CycleCancelled:           true,
		CycleTimeout:             true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", s, got, want)
		}
	}
}
