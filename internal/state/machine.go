package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/marllet/fleettrack/internal/models"
)

// Lifecycle events
const (
	EventStart    = "start"
	EventComplete = "complete"
	EventCancel   = "cancel"
)

// MissionState current lifecycle position of a mission
type MissionState struct {
	MissionID    string    `json:"mission_id"`
	CurrentState string    `json:"state"`
	Since        time.Time `json:"since"`
}

// Machine mission lifecycle state machine. Guarantees terminal states
// are absorbing: no event leads out of completed or cancelled.
type Machine struct {
	mu            sync.RWMutex
	missionID     string
	fsm           *fsm.FSM
	since         time.Time
	onStateChange func(missionID, from, to string)
}

// NewMachine creates a lifecycle machine for one mission
func NewMachine(missionID, initialState string, onStateChange func(missionID, from, to string)) *Machine {
	if initialState == "" {
		initialState = models.MissionPending
	}

	m := &Machine{
		missionID:     missionID,
		onStateChange: onStateChange,
		since:         time.Now(),
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			{Name: EventStart, Src: []string{models.MissionPending}, Dst: models.MissionInProgress},
			{Name: EventComplete, Src: []string{models.MissionInProgress}, Dst: models.MissionCompleted},
			{Name: EventCancel, Src: []string{models.MissionPending, models.MissionInProgress}, Dst: models.MissionCancelled},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.missionID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState returns the current lifecycle state
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// GetState returns a state snapshot
func (m *Machine) GetState() *MissionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &MissionState{
		MissionID:    m.missionID,
		CurrentState: m.fsm.Current(),
		Since:        m.since,
	}
}

// Trigger fires a lifecycle event
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.since = time.Now()
	return nil
}

// CanTransition checks whether an event is valid from the current state
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Manager holds one machine per mission
type Manager struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	onChange func(missionID, from, to string)
}

// NewManager creates a manager
func NewManager(onChange func(missionID, from, to string)) *Manager {
	return &Manager{
		machines: make(map[string]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate returns the mission's machine, creating it at initialState
func (m *Manager) GetOrCreate(missionID, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[missionID]; ok {
		return machine
	}

	machine := NewMachine(missionID, initialState, m.onChange)
	m.machines[missionID] = machine
	return machine
}

// Get returns the mission's machine if present
func (m *Manager) Get(missionID string) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[missionID]
	return machine, ok
}

// GetAllStates returns a snapshot of every tracked mission's state
func (m *Manager) GetAllStates() map[string]*MissionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]*MissionState)
	for missionID, machine := range m.machines {
		states[missionID] = machine.GetState()
	}
	return states
}
