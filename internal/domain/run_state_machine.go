package domain

import (
	"fmt"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
)

// RunTransition is a lifecycle action on a run
type RunTransition string

const (
	// TransitionAdvance moves an active run to another stage
	TransitionAdvance RunTransition = "Advance"
	// TransitionComplete finishes the run
	TransitionComplete RunTransition = "Complete"
	// TransitionAbort cancels the run
	TransitionAbort RunTransition = "Abort"
	// TransitionUpdateContext merges new context values
	TransitionUpdateContext RunTransition = "UpdateContext"
)

// RunStateMachine enforces the run lifecycle.
// Invalid transitions return an error and leave the state untouched.
type RunStateMachine struct {
	transitions map[stateTransitionKey]models.RunStatus
}

type stateTransitionKey struct {
	status     models.RunStatus
	transition RunTransition
}

// NewRunStateMachine creates the state machine for the run lifecycle.
//
//	     Advance / UpdateContext
//	         ┌────┐
//	         ▼    │
//	       [active]
//	        │     │
//	  Complete   Abort
//	        │     │
//	        ▼     ▼
//	[completed] [aborted]
//
// completed and aborted are terminal; the current stage is frozen there.
func NewRunStateMachine() *RunStateMachine {
	sm := &RunStateMachine{
		transitions: make(map[stateTransitionKey]models.RunStatus),
	}

	sm.addTransition(models.RunStatusActive, TransitionAdvance, models.RunStatusActive)
	sm.addTransition(models.RunStatusActive, TransitionUpdateContext, models.RunStatusActive)
	sm.addTransition(models.RunStatusActive, TransitionComplete, models.RunStatusCompleted)
	sm.addTransition(models.RunStatusActive, TransitionAbort, models.RunStatusAborted)

	return sm
}

func (sm *RunStateMachine) addTransition(from models.RunStatus, via RunTransition, to models.RunStatus) {
	sm.transitions[stateTransitionKey{status: from, transition: via}] = to
}

// Transition returns the status reached from current via action
func (sm *RunStateMachine) Transition(current models.RunStatus, action RunTransition) (models.RunStatus, error) {
	next, ok := sm.transitions[stateTransitionKey{status: current, transition: action}]
	if !ok {
		return current, fmt.Errorf("cannot %s a run that is %s", action, current)
	}
	return next, nil
}

// CanTransition checks if a transition is valid without performing it.
func (sm *RunStateMachine) CanTransition(current models.RunStatus, action RunTransition) bool {
	_, ok := sm.transitions[stateTransitionKey{status: current, transition: action}]
	return ok
}

// IsTerminal returns true for completed and aborted runs
func (sm *RunStateMachine) IsTerminal(status models.RunStatus) bool {
	return status == models.RunStatusCompleted || status == models.RunStatusAborted
}
