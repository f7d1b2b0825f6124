package state

import (
	"testing"

	"github.com/marllet/fleettrack/internal/models"
)

func TestLifecycle(t *testing.T) {
	m := NewMachine("m1", "", nil)

	if m.CurrentState() != models.MissionPending {
		t.Fatalf("initial state = %s, want pending", m.CurrentState())
	}
	if !m.CanTransition(EventStart) {
		t.Fatal("start should be allowed from pending")
	}
	if m.CanTransition(EventComplete) {
		t.Fatal("complete must not be allowed from pending")
	}

	if err := m.Trigger(EventStart); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Trigger(EventComplete); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// terminal states are absorbing
	for _, event := range []string{EventStart, EventComplete, EventCancel} {
		if err := m.Trigger(event); err == nil {
			t.Fatalf("event %s should fail from completed", event)
		}
	}
}

func TestCancelFromPending(t *testing.T) {
	m := NewMachine("m1", models.MissionPending, nil)
	if err := m.Trigger(EventCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if m.CurrentState() != models.MissionCancelled {
		t.Fatalf("state = %s, want cancelled", m.CurrentState())
	}
}

func TestOnStateChangeCallback(t *testing.T) {
	var gotFrom, gotTo string
	m := NewMachine("m1", "", func(missionID, from, to string) {
		if missionID != "m1" {
			t.Errorf("missionID = %s", missionID)
		}
		gotFrom, gotTo = from, to
	})

	if err := m.Trigger(EventStart); err != nil {
		t.Fatalf("start: %v", err)
	}
	if gotFrom != models.MissionPending || gotTo != models.MissionInProgress {
		t.Fatalf("callback saw %s -> %s", gotFrom, gotTo)
	}
}

func TestManagerSeedsInitialState(t *testing.T) {
	mgr := NewManager(nil)

	m := mgr.GetOrCreate("m1", models.MissionInProgress)
	if m.CurrentState() != models.MissionInProgress {
		t.Fatalf("state = %s, want in_progress", m.CurrentState())
	}

	// second GetOrCreate returns the same machine
	if mgr.GetOrCreate("m1", models.MissionPending) != m {
		t.Fatal("expected the existing machine")
	}

	if _, ok := mgr.Get("unknown"); ok {
		t.Fatal("unknown mission should not exist")
	}

	states := mgr.GetAllStates()
	if len(states) != 1 || states["m1"].CurrentState != models.MissionInProgress {
		t.Fatalf("unexpected states: %+v", states)
	}
}
