package jsonrpc2

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/jsonrpc2x/internal/lifecycle"
	"github.com/dkoosis/jsonrpc2x/internal/logging"
	"github.com/dkoosis/jsonrpc2x/internal/metrics"
	"github.com/dkoosis/jsonrpc2x/internal/task"
)

// CancelMethod is the well-known notification method a peer sends to ask
// the other side to abandon an in-flight request.
const CancelMethod = "$/cancelRequest"

// Consumer hands a framed message off to the outside world — typically a
// *FrameWriter.Write, but any function with this shape works (e.g. a test
// double recording emitted messages).
type Consumer func(msg interface{}) error

type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

// inboundCall tracks one request this peer is executing: its FSM gates
// which of {cancel, succeed, fail, respond-after-cancel} is allowed to fire
// next, so a late completion racing a cancellation can't double-respond.
type inboundCall struct {
	fsm lifecycle.FSM
	fut *task.Future[json.RawMessage]
}

// outboundCall tracks one request this peer sent: its FSM gates whether a
// response, rejection, or cancellation is still a legal transition from the
// current state.
type outboundCall struct {
	fsm lifecycle.FSM
	fut *task.Future[json.RawMessage]
}

// Endpoint is a bidirectional JSON-RPC 2.0 peer: it answers inbound
// requests and notifications via a Dispatcher, tracks outbound requests
// this peer issued, and supports best-effort cancellation in both
// directions. It is the only stateful component in this library — frame
// codecs and the dispatcher are passive by comparison.
type Endpoint struct {
	dispatcher     Dispatcher
	consumer       Consumer
	idGen          IDGenerator
	logger         logging.Logger
	metrics        *metrics.Collector
	requestTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	clientRequests map[string]*inboundCall  // inbound requests this peer is executing
	serverRequests map[string]*outboundCall // outbound requests awaiting a response
}

// Option configures an Endpoint at construction time.
type Option func(*Endpoint)

// WithIDGenerator overrides the default UUIDv4 outbound id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(e *Endpoint) { e.idGen = gen }
}

// WithLogger attaches a logger; nil is replaced with a no-op.
func WithLogger(l logging.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics attaches a metrics collector. A nil collector (the default)
// leaves every counter increment a no-op.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Endpoint) { e.metrics = c }
}

// WithRequestTimeout bounds how long Request() waits for a matching
// response before the endpoint cancels it on the caller's behalf — exactly
// as if the caller had called Cancel() on the returned future itself. Zero
// (the default) applies no timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Endpoint) { e.requestTimeout = d }
}

// NewEndpoint constructs an Endpoint bound to dispatcher for inbound calls
// and consumer for outbound bytes. The returned Endpoint is ready to have
// Consume fed frames and Notify/Request called against it.
func NewEndpoint(dispatcher Dispatcher, consumer Consumer, opts ...Option) *Endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		dispatcher:     dispatcher,
		consumer:       consumer,
		idGen:          DefaultIDGenerator,
		logger:         logging.GetNoopLogger(),
		ctx:            ctx,
		cancel:         cancel,
		clientRequests: make(map[string]*inboundCall),
		serverRequests: make(map[string]*outboundCall),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithField("component", "endpoint")
	return e
}

// Notify sends a one-way message. It only fails if the consumer itself
// fails to hand off the bytes; there is no response to wait for.
func (e *Endpoint) Notify(method string, params interface{}) error {
	n, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	e.logger.Debug("sending notification", "method", method)
	return e.consumer(n)
}

// Request sends a call and returns a future that resolves when a matching
// response arrives. Cancelling the returned future completes it locally as
// cancelled, stops tracking the request, and sends a best-effort
// $/cancelRequest notification; the remote peer decides whether to honor
// it. A response that arrives after cancellation finds no tracked request
// and is discarded; one that races the cancellation is rejected by the
// outbound FSM, which has no transition out of its cancelled state.
func (e *Endpoint) Request(method string, params interface{}) (*task.Future[json.RawMessage], error) {
	id := e.idGen()
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	key := idKey(req.ID)

	call := &outboundCall{
		fsm: lifecycle.NewOutboundFSM(e.logger),
		fut: task.NewFuture[json.RawMessage](),
	}
	e.mu.Lock()
	e.serverRequests[key] = call
	e.mu.Unlock()

	call.fut.OnDone(func(r task.Result[json.RawMessage]) {
		if !r.Cancelled {
			return
		}
		if err := call.fsm.Transition(e.ctx, lifecycle.EventCancel, nil); err != nil {
			e.logger.Warn("outbound request no longer pending, dropping cancel notification", "id", key, "error", err)
			return
		}
		e.mu.Lock()
		delete(e.serverRequests, key)
		e.mu.Unlock()
		e.metrics.IncCancellations()
		if notifyErr := e.Notify(CancelMethod, cancelParams{ID: req.ID}); notifyErr != nil {
			e.logger.Error("failed to emit cancel notification", "id", key, "error", notifyErr)
		}
	})

	if e.requestTimeout > 0 {
		go e.watchRequestTimeout(call.fut, key)
	}

	e.logger.Debug("sending request", "method", method, "id", key)
	if err := e.consumer(req); err != nil {
		e.mu.Lock()
		delete(e.serverRequests, key)
		e.mu.Unlock()
		return nil, err
	}
	return call.fut, nil
}

// watchRequestTimeout cancels fut if it is still pending once
// e.requestTimeout elapses, mirroring the context.WithTimeout idiom callers
// would otherwise have to wrap around every Request() call themselves.
func (e *Endpoint) watchRequestTimeout(fut *task.Future[json.RawMessage], key string) {
	ctx, cancel := context.WithTimeout(e.ctx, e.requestTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Debug("request timed out, cancelling", "id", key, "timeout", e.requestTimeout)
			fut.Cancel()
		}
	case <-fut.Done():
	}
}

// Consume routes one inbound message to the appropriate handling path
// based on which of id/method are present, per the JSON-RPC 2.0 shape
// rules.
func (e *Endpoint) Consume(msg *Message) {
	if msg.JSONRPC != Version {
		e.logger.Warn("ignoring message with missing or wrong jsonrpc field", "jsonrpc", msg.JSONRPC)
		return
	}

	switch {
	case msg.ID == nil && msg.Method != "":
		e.handleNotification(msg.Method, msg.Params)
	case msg.ID != nil && msg.Method == "":
		e.handleResponse(msg.ID, msg.Result, msg.Error)
	case msg.ID != nil && msg.Method != "":
		e.handleRequest(msg.ID, msg.Method, msg.Params)
	default:
		e.logger.Warn("ignoring message with neither id nor method")
	}
}

func (e *Endpoint) handleNotification(method string, params json.RawMessage) {
	if method == CancelMethod {
		e.handleCancelNotification(params)
		return
	}

	handler, ok := e.dispatcher.Lookup(method)
	if !ok {
		e.logger.Warn("ignoring notification for unknown method", "method", method)
		return
	}

	result, err := e.safeInvoke(handler, &Request{Method: method, Params: params})
	if err != nil {
		e.logger.Error("notification handler failed", "method", method, "error", err)
		return
	}

	fut, ok := result.(*task.Future[json.RawMessage])
	if !ok {
		return
	}
	fut.OnDone(func(r task.Result[json.RawMessage]) {
		if r.Err != nil {
			e.logger.Error("async notification handler failed", "method", method, "error", r.Err)
		}
	})
}

// handleCancelNotification asks the inbound FSM for the request named by
// params to move to its cancelled state, and only actually cancels the
// underlying task if that transition is legal from its current state. A
// request that has already responded stays responded, so a $/cancelRequest
// arriving after the response is a no-op by the state table rather than a
// race between two independent completions.
func (e *Endpoint) handleCancelNotification(params json.RawMessage) {
	var p cancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		e.logger.Warn("malformed cancel notification params", "error", err)
		return
	}
	key := idKey(p.ID)

	e.mu.Lock()
	call, ok := e.clientRequests[key]
	e.mu.Unlock()

	if !ok {
		e.logger.Warn("cancel notification for unknown request id", "id", key)
		return
	}

	if err := call.fsm.Transition(e.ctx, lifecycle.EventCancel, nil); err != nil {
		e.logger.Debug("cannot cancel inbound request, already completed", "id", key, "error", err)
		return
	}
	call.fut.Cancel()
}

func (e *Endpoint) handleRequest(id json.RawMessage, method string, params json.RawMessage) {
	handler, ok := e.dispatcher.Lookup(method)
	if !ok {
		e.emitResponse(id, nil, MethodNotFound(method))
		return
	}
	e.metrics.IncRequestsDispatched()

	fsm := lifecycle.NewInboundFSM(e.logger)

	result, err := e.safeInvoke(handler, &Request{ID: id, Method: method, Params: params})
	if err != nil {
		e.respondInbound(fsm, id, nil, err)
		return
	}

	fut, ok := result.(*task.Future[json.RawMessage])
	if !ok {
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			e.respondInbound(fsm, id, nil, marshalErr)
			return
		}
		e.respondInbound(fsm, id, raw, nil)
		return
	}

	key := idKey(id)
	if err := fsm.Transition(e.ctx, lifecycle.EventStart, nil); err != nil {
		e.logger.Error("inbound request FSM rejected start transition", "id", key, "error", err)
	}

	call := &inboundCall{fsm: fsm, fut: fut}
	e.mu.Lock()
	e.clientRequests[key] = call
	e.mu.Unlock()

	fut.OnDone(func(r task.Result[json.RawMessage]) {
		e.mu.Lock()
		delete(e.clientRequests, key)
		e.mu.Unlock()

		if r.Cancelled {
			// handleCancelNotification already drove the FSM from RUNNING
			// to CANCELLED; Shutdown cancels the future directly without
			// going through that path, so try the transition here too and
			// ignore failure — either way the FSM is now in its cancelled
			// state by the time we ask it to respond.
			_ = fsm.Transition(e.ctx, lifecycle.EventCancel, nil)
			if err := fsm.Transition(e.ctx, lifecycle.EventRespondCancel, nil); err != nil {
				e.logger.Warn("inbound request already responded, dropping late cancellation", "id", key, "error", err)
				return
			}
			e.emitResponse(id, nil, RequestCancelled())
			return
		}
		e.respondInbound(fsm, id, r.Value, r.Err)
	})
}

// respondInbound drives the inbound FSM's terminal transition for a
// synchronously- or asynchronously-produced result and, only if that
// transition succeeds, emits the response. If a cancellation moved the FSM
// to CANCELLED after the task had already completed, RequestCancelled is
// emitted in place of the result. Any other failed transition means the
// request already took its one terminal RESPONDED transition, so the
// response here is dropped instead of sent twice.
func (e *Endpoint) respondInbound(fsm lifecycle.FSM, id json.RawMessage, result json.RawMessage, err error) {
	event := lifecycle.EventSucceed
	if err != nil {
		event = lifecycle.EventFailInternal
		if _, ok := AsRPCError(err); ok {
			event = lifecycle.EventFail
		}
	}

	if transErr := fsm.Transition(e.ctx, event, nil); transErr != nil {
		if fsm.Transition(e.ctx, lifecycle.EventRespondCancel, nil) == nil {
			e.emitResponse(id, nil, RequestCancelled())
			return
		}
		e.logger.Warn("inbound request already responded, dropping result", "id", idKey(id), "error", transErr)
		return
	}

	if err != nil {
		e.emitResponse(id, nil, toRPCError(err))
		return
	}
	e.emitResponse(id, result, nil)
}

// handleResponse matches an inbound response to the outbound request that
// requested it, driving that request's FSM through its one legal terminal
// transition. A response whose id is no longer tracked — most commonly
// because the caller cancelled the future first, which removes the entry —
// is logged and discarded. A response whose FSM is already terminal is
// discarded the same way rather than resolving a future that has already
// completed.
func (e *Endpoint) handleResponse(id json.RawMessage, result json.RawMessage, rpcErr *Error) {
	key := idKey(id)

	e.mu.Lock()
	call, ok := e.serverRequests[key]
	if ok {
		delete(e.serverRequests, key)
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Warn("response to unknown or already-cancelled request id", "id", key)
		return
	}

	event := lifecycle.EventResolve
	if rpcErr != nil {
		event = lifecycle.EventReject
	}
	if err := call.fsm.Transition(e.ctx, event, nil); err != nil {
		e.logger.Warn("discarding response, outbound request no longer pending", "id", key, "error", err)
		return
	}

	if rpcErr != nil {
		call.fut.Reject(rpcErr)
		return
	}
	call.fut.Resolve(result)
}

// safeInvoke calls h, converting a panic into an error rather than letting
// it cross the handler boundary and take the whole endpoint down with it.
func (e *Endpoint) safeInvoke(h Handler, req *Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return h(e.ctx, req)
}

func (e *Endpoint) emitResponse(id json.RawMessage, result json.RawMessage, rpcErr *Error) {
	resp, err := NewResponse(id, result, rpcErr)
	if err != nil {
		e.logger.Error("failed to build response", "id", idKey(id), "error", err)
		return
	}
	if err := e.consumer(resp); err != nil {
		e.logger.Error("failed to emit response", "id", idKey(id), "error", err)
	}
}

func toRPCError(err error) *Error {
	if rpcErr, ok := AsRPCError(err); ok {
		return rpcErr
	}
	return InternalErrorFrom(err)
}

// Shutdown cancels every tracked inbound and outbound request and releases
// the endpoint's background context. It does not close the underlying
// stream; callers own that lifecycle.
func (e *Endpoint) Shutdown() {
	e.mu.Lock()
	clientReqs := e.clientRequests
	serverReqs := e.serverRequests
	e.clientRequests = make(map[string]*inboundCall)
	e.serverRequests = make(map[string]*outboundCall)
	e.mu.Unlock()

	for _, call := range clientReqs {
		call.fut.Cancel()
	}
	for _, call := range serverReqs {
		call.fut.Cancel()
	}
	e.cancel()
}
