package lifecycle

import "github.com/dkoosis/jsonrpc2x/internal/logging"

// Inbound request states, matching the endpoint's state diagram for a
// request this peer received and must answer exactly once.
const (
	InboundDispatched State = "dispatched"
	InboundRunning     State = "running"
	InboundCancelled   State = "cancelled"
	InboundResponded   State = "responded"
)

// Inbound request events.
const (
	EventStart         Event = "start"         // handler begins async work
	EventCancel        Event = "cancel"        // $/cancelRequest observed before completion
	EventSucceed       Event = "succeed"       // handler or task returned a value
	EventFail          Event = "fail"          // handler or task raised a typed RPC error
	EventFailInternal  Event = "fail_internal" // handler or task raised anything else
	EventRespondCancel Event = "respond_cancel" // emit RequestCancelled after EventCancel
)

// NewInboundFSM builds the inbound-request lifecycle FSM described in the
// endpoint's state diagram: DISPATCHED -> RUNNING -> {CANCELLED -> RESPONDED
// | RESPONDED}. DISPATCHED can also go straight to RESPONDED for handlers
// that return synchronously.
func NewInboundFSM(logger logging.Logger) FSM {
	f := NewFSM(InboundDispatched, logger)
	f.AddTransition(Transition{From: []State{InboundDispatched}, Event: EventStart, To: InboundRunning})
	f.AddTransition(Transition{From: []State{InboundDispatched}, Event: EventSucceed, To: InboundResponded})
	f.AddTransition(Transition{From: []State{InboundDispatched}, Event: EventFail, To: InboundResponded})
	f.AddTransition(Transition{From: []State{InboundDispatched}, Event: EventFailInternal, To: InboundResponded})
	f.AddTransition(Transition{From: []State{InboundRunning}, Event: EventCancel, To: InboundCancelled})
	f.AddTransition(Transition{From: []State{InboundRunning}, Event: EventSucceed, To: InboundResponded})
	f.AddTransition(Transition{From: []State{InboundRunning}, Event: EventFail, To: InboundResponded})
	f.AddTransition(Transition{From: []State{InboundRunning}, Event: EventFailInternal, To: InboundResponded})
	f.AddTransition(Transition{From: []State{InboundCancelled}, Event: EventRespondCancel, To: InboundResponded})
	if err := f.Build(); err != nil {
		panic("lifecycle: inbound FSM transition table is invalid: " + err.Error())
	}
	return f
}

// Outbound request states: a request this peer sent and is awaiting a
// response for.
const (
	OutboundPending   State = "pending"
	OutboundResolved  State = "resolved"
	OutboundRejected  State = "rejected"
	OutboundCancelled State = "cancelled"
)

// Outbound request events.
const (
	EventResolve Event = "resolve"
	EventReject  Event = "reject"
)

// NewOutboundFSM builds the outbound-request lifecycle FSM: PENDING ->
// {RESOLVED | REJECTED | CANCELLED}. A late response arriving after
// CANCELLED has nowhere to transition to and is rejected by the FSM, which
// is exactly the "discard" behavior the endpoint wants.
func NewOutboundFSM(logger logging.Logger) FSM {
	f := NewFSM(OutboundPending, logger)
	f.AddTransition(Transition{From: []State{OutboundPending}, Event: EventResolve, To: OutboundResolved})
	f.AddTransition(Transition{From: []State{OutboundPending}, Event: EventReject, To: OutboundRejected})
	f.AddTransition(Transition{From: []State{OutboundPending}, Event: EventCancel, To: OutboundCancelled})
	if err := f.Build(); err != nil {
		panic("lifecycle: outbound FSM transition table is invalid: " + err.Error())
	}
	return f
}

// Terminal reports whether a state is terminal for either lifecycle.
func Terminal(s State) bool {
	switch s {
	case InboundResponded, OutboundResolved, OutboundRejected, OutboundCancelled:
		return true
	default:
		return false
	}
}
