package launch

import "fmt"

// State is a position in the per-request pipeline
type State int

const (
	StateReceived State = iota
	StateVerified
	StateValidated
	StateAdmitted
	StateMetadataPublished
	StateCreated
	StateSigned
	StateBroadcast
	StateConfirmed
	StateFailed
)

var stateNames = [...]string{
	"received", "verified", "validated", "admitted", "metadata_published",
	"created", "signed", "broadcast", "confirmed", "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition may leave s
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Stage names the step being attempted when a run moves out of a state
type Stage string

const (
	StageVerify    Stage = "verify"
	StageValidate  Stage = "validate"
	StageAdmit     Stage = "admit"
	StagePublish   Stage = "publish"
	StageCreate    Stage = "create"
	StageSign      Stage = "sign"
	StageBroadcast Stage = "broadcast"
	StageCommit    Stage = "commit"
	StageResume    Stage = "resume"
)

// stageTargets maps each stage to the state it reaches on success
var stageTargets = map[Stage]State{
	StageVerify:    StateVerified,
	StageValidate:  StateValidated,
	StageAdmit:     StateAdmitted,
	StagePublish:   StateMetadataPublished,
	StageCreate:    StateCreated,
	StageSign:      StateSigned,
	StageBroadcast: StateBroadcast,
	StageCommit:    StateConfirmed,
}

// Target returns the state reached when the stage succeeds
func (s Stage) Target() (State, bool) {
	st, ok := stageTargets[s]
	return st, ok
}

// Transition records one step of a run
type Transition struct {
	From State
	To   State
}

// Machine enforces the linear order of the pipeline for a single run.
// It is not safe for concurrent use; each run owns its machine.
type Machine struct {
	state   State
	history []Transition
}

// NewMachine starts a run in StateReceived
func NewMachine() *Machine {
	return &Machine{state: StateReceived}
}

// ResumeMachine starts a run from a state reached by an earlier run
func ResumeMachine(from State) *Machine {
	return &Machine{state: from}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// History returns the transitions taken so far
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Advance moves to the state reached by stage. Only the immediate successor
// of the current state is accepted.
func (m *Machine) Advance(stage Stage) error {
	next, ok := stage.Target()
	if !ok {
		return fmt.Errorf("stage %q has no target state", stage)
	}
	if m.state.Terminal() {
		return fmt.Errorf("run is already %s", m.state)
	}
	if next != m.state+1 {
		return fmt.Errorf("cannot move from %s to %s", m.state, next)
	}
	m.history = append(m.history, Transition{From: m.state, To: next})
	m.state = next
	return nil
}

// Fail moves the run to StateFailed from any non-terminal state
func (m *Machine) Fail() {
	if m.state.Terminal() {
		return
	}
	m.history = append(m.history, Transition{From: m.state, To: StateFailed})
	m.state = StateFailed
}
