// Package fsm defines the query workflow states and the pure transition table between them.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle         State = "idle"
	StateCapturing    State = "capturing"
	StateCaptured     State = "captured"
	StateTranscribing State = "transcribing"
	StateComposing    State = "composing"
	StateSubmitting   State = "submitting"
	StateResulted     State = "resulted"
	StateFailed       State = "failed"
)

const (
	EventStart       Event = "start"
	EventStop        Event = "stop"
	EventTranscribe  Event = "transcribe"
	EventTranscribed Event = "transcribed"
	EventEdit        Event = "edit"
	EventSubmit      Event = "submit"
	EventResolve     Event = "resolve"
	EventFail        Event = "fail"
	EventReset       Event = "reset"
)

// States lists every state in lifecycle order.
var States = []State{
	StateIdle,
	StateCapturing,
	StateCaptured,
	StateTranscribing,
	StateComposing,
	StateSubmitting,
	StateResulted,
	StateFailed,
}

// Busy reports whether s is waiting on the device or the network.
func (s State) Busy() bool {
	return s == StateCapturing || s == StateTranscribing || s == StateSubmitting
}

func Transition(current State, event Event) (State, error) {
	if !known(current) {
		return current, fmt.Errorf("unknown state %q", current)
	}
	if event == EventReset {
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateCapturing, nil
		case EventEdit:
			return StateComposing, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateCapturing:
		switch event {
		case EventStop:
			return StateCaptured, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateCaptured:
		switch event {
		case EventStart:
			return StateCapturing, nil
		case EventTranscribe:
			return StateTranscribing, nil
		case EventEdit:
			return StateComposing, nil
		}
	case StateTranscribing:
		switch event {
		case EventTranscribed:
			return StateComposing, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateComposing:
		switch event {
		case EventStart:
			return StateCapturing, nil
		case EventEdit:
			return StateComposing, nil
		case EventSubmit:
			return StateSubmitting, nil
		}
	case StateSubmitting:
		switch event {
		case EventResolve:
			return StateResulted, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateResulted:
		switch event {
		case EventStart:
			return StateCapturing, nil
		case EventEdit:
			return StateComposing, nil
		case EventSubmit:
			return StateSubmitting, nil
		}
	case StateFailed:
		switch event {
		case EventStart:
			return StateCapturing, nil
		case EventTranscribe:
			return StateTranscribing, nil
		case EventEdit:
			return StateComposing, nil
		case EventSubmit:
			return StateSubmitting, nil
		}
	}

	return current, invalidTransition(current, event)
}

func known(state State) bool {
	for _, s := range States {
		if s == state {
			return true
		}
	}
	return false
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
