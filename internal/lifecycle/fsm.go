// Package lifecycle gives the endpoint's request state diagrams literal,
// enforced states instead of prose: a generic FSM wrapper around
// looplab/fsm, plus the concrete inbound/outbound request lifecycles built
// on top of it.
package lifecycle

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/jsonrpc2x/internal/logging"
	lfsm "github.com/looplab/fsm"
)

// State represents a state in the FSM.
type State string

// Event represents an event that can trigger a state transition.
type Event string

// TransitionAction defines the function signature for actions executed during transitions.
type TransitionAction func(ctx context.Context, event Event, data interface{}) error

// GuardCondition defines the function signature for guard conditions on transitions.
type GuardCondition func(ctx context.Context, event Event, data interface{}) bool

// Transition defines a transition rule between states, possibly from
// multiple source states.
type Transition struct {
	From      []State
	To        State
	Event     Event
	Action    TransitionAction
	Condition GuardCondition
}

// FSM is the interface callers drive a built state machine through.
type FSM interface {
	AddTransition(transition Transition) FSM
	Build() error
	CurrentState() State
	CanTransition(event Event) bool
	Transition(ctx context.Context, event Event, data interface{}) error
	SetState(state State) error
	Reset() error
}

type loopFSM struct {
	initialState State
	logger       logging.Logger
	transitions  []Transition
	fsm          *lfsm.FSM
	buildErr     error
	mu           sync.RWMutex
	callbackMap  lfsm.Callbacks
	eventDescMap map[string]lfsm.EventDesc
}

// NewFSM creates a new FSM builder with the given initial state. Call
// AddTransition for each transition rule, then Build to finalize.
func NewFSM(initialState State, logger logging.Logger) FSM {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &loopFSM{
		initialState: initialState,
		logger:       logger.WithField("component", "lifecycle_fsm"),
		transitions:  make([]Transition, 0),
	}
}

func (l *loopFSM) AddTransition(t Transition) FSM {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fsm != nil {
		l.logger.Error("cannot AddTransition after Build has been called")
		if l.buildErr == nil {
			l.buildErr = errors.New("cannot AddTransition after Build")
		}
		return l
	}
	if len(t.From) == 0 {
		l.logger.Error("transition missing From states", "event", t.Event, "to", t.To)
		if l.buildErr == nil {
			l.buildErr = errors.New("transition definition missing 'From' states")
		}
		return l
	}
	l.transitions = append(l.transitions, t)
	return l
}

func (l *loopFSM) Build() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fsm != nil {
		return l.buildErr
	}
	if l.buildErr != nil {
		return l.buildErr
	}

	l.callbackMap = make(lfsm.Callbacks)
	l.eventDescMap = make(map[string]lfsm.EventDesc)
	processedEvents := make(map[Event]struct{})

	for i, t := range l.transitions {
		eventName := string(t.Event)
		toStateStr := string(t.To)
		fromStatesStr := make([]string, len(t.From))
		for j, s := range t.From {
			fromStatesStr[j] = string(s)
		}

		desc, exists := l.eventDescMap[eventName]
		if !exists {
			desc = lfsm.EventDesc{Name: eventName, Dst: toStateStr}
		} else if desc.Dst != toStateStr {
			err := errors.Newf("conflicting destinations ('%s' and '%s') for the same event ('%s')", desc.Dst, toStateStr, eventName)
			l.logger.Error("invalid FSM configuration", "error", err)
			l.buildErr = err
			return l.buildErr
		}
		desc.Src = append(desc.Src, fromStatesStr...)
		l.eventDescMap[eventName] = desc

		if _, alreadyProcessed := processedEvents[t.Event]; !alreadyProcessed {
			if t.Condition != nil {
				callbackName := "before_" + eventName
				l.callbackMap[callbackName] = l.createGuardCallback(t)
			}
			if t.Action != nil {
				enterCallbackName := "enter_" + toStateStr
				originalEnterCallback := l.callbackMap[enterCallbackName]
				l.callbackMap[enterCallbackName] = l.createActionCallback(i, originalEnterCallback)
			}
			processedEvents[t.Event] = struct{}{}
		} else if t.Action != nil {
			enterCallbackName := "enter_" + toStateStr
			originalEnterCallback := l.callbackMap[enterCallbackName]
			l.callbackMap[enterCallbackName] = l.createActionCallback(i, originalEnterCallback)
		}
	}

	finalEvents := make([]lfsm.EventDesc, 0, len(l.eventDescMap))
	for _, desc := range l.eventDescMap {
		uniqueSrc := make(map[string]struct{})
		dedupedSrc := make([]string, 0, len(desc.Src))
		for _, s := range desc.Src {
			if _, exists := uniqueSrc[s]; !exists {
				uniqueSrc[s] = struct{}{}
				dedupedSrc = append(dedupedSrc, s)
			}
		}
		desc.Src = dedupedSrc
		finalEvents = append(finalEvents, desc)
	}

	l.fsm = lfsm.NewFSM(string(l.initialState), finalEvents, l.callbackMap)
	return nil
}

func (l *loopFSM) createGuardCallback(t Transition) lfsm.Callback {
	return func(ctx context.Context, e *lfsm.Event) {
		isRelevantSource := false
		for _, srcState := range t.From {
			if e.Src == string(srcState) {
				isRelevantSource = true
				break
			}
		}
		if !isRelevantSource {
			return
		}

		var eventData interface{}
		if len(e.Args) > 0 {
			eventData = e.Args[0]
		}

		if !t.Condition(ctx, t.Event, eventData) {
			e.Cancel(errors.Newf("guard condition for event '%s' from state '%s' failed", t.Event, e.Src))
		}
	}
}

func (l *loopFSM) createActionCallback(transitionIndex int, nextCallback lfsm.Callback) lfsm.Callback {
	return func(ctx context.Context, e *lfsm.Event) {
		var matchedTransition *Transition
		l.mu.RLock()
		for i := range l.transitions {
			if i != transitionIndex {
				continue
			}
			isRelevantSource := false
			for _, fromState := range l.transitions[i].From {
				if string(fromState) == e.Src {
					isRelevantSource = true
					break
				}
			}
			if string(l.transitions[i].Event) == e.Event && isRelevantSource {
				matchedTransition = &l.transitions[i]
			}
			break
		}
		l.mu.RUnlock()

		if matchedTransition != nil && matchedTransition.Action != nil {
			var eventData interface{}
			if len(e.Args) > 0 {
				eventData = e.Args[0]
			}
			if err := matchedTransition.Action(ctx, matchedTransition.Event, eventData); err != nil {
				l.logger.Error("transition action failed", "event", matchedTransition.Event, "to_state", matchedTransition.To, "error", err)
			}
		}

		if nextCallback != nil {
			nextCallback(ctx, e)
		}
	}
}

func (l *loopFSM) CurrentState() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.fsm == nil {
		return ""
	}
	return State(l.fsm.Current())
}

func (l *loopFSM) CanTransition(event Event) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.fsm == nil {
		return false
	}
	return l.fsm.Can(string(event))
}

func (l *loopFSM) Transition(ctx context.Context, event Event, data interface{}) error {
	l.mu.RLock()
	if l.fsm == nil {
		l.mu.RUnlock()
		return l.buildErr
	}
	fsmInstance := l.fsm
	l.mu.RUnlock()

	args := []interface{}{}
	if data != nil {
		args = append(args, data)
	}

	err := fsmInstance.Event(ctx, string(event), args...)
	if err != nil {
		errMsg := err.Error()
		switch {
		case errors.Is(err, &lfsm.NoTransitionError{}), errors.Is(err, &lfsm.InvalidEventError{}), errors.Is(err, &lfsm.UnknownEventError{}):
			return errors.Wrap(err, "transition not possible")
		case errors.Is(err, &lfsm.CanceledError{}), strings.Contains(errMsg, "guard condition"):
			return errors.Wrap(err, "transition cancelled by guard condition")
		case errors.Is(err, &lfsm.InTransitionError{}):
			return errors.Wrap(err, "FSM concurrency error")
		}
		return errors.Wrapf(err, "failed to transition on event '%s' from state '%s'", event, l.CurrentState())
	}
	return nil
}

func (l *loopFSM) SetState(state State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fsm == nil {
		return l.buildErr
	}
	l.fsm.SetState(string(state))
	return nil
}

func (l *loopFSM) Reset() error {
	return l.SetState(l.initialState)
}
