package jsonrpc2

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkoosis/jsonrpc2x/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConsumer captures every message handed to it, for assertions
// against what the endpoint chose to emit.
type recordingConsumer struct {
	mu   sync.Mutex
	sent []interface{}
}

func (c *recordingConsumer) consume(msg interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingConsumer) last() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func fixedIDGen(id string) IDGenerator {
	return func() string { return id }
}

func TestEndpointRequestResponseRoundTrip(t *testing.T) {
	// S5: with id-gen returning "id", request() emits a well-formed
	// request and the returned future resolves once a matching response
	// is fed back in.
	rec := &recordingConsumer{}
	ep := NewEndpoint(NewMap(), rec.consume, WithIDGenerator(fixedIDGen("id")))

	fut, err := ep.Request("methodName", map[string]string{"key": "value"})
	require.NoError(t, err)

	require.Equal(t, 1, rec.count())
	sentReq, ok := rec.last().(*Request)
	require.True(t, ok)
	assert.Equal(t, `"id"`, string(sentReq.ID))
	assert.Equal(t, "methodName", sentReq.Method)
	assert.JSONEq(t, `{"key":"value"}`, string(sentReq.Params))

	ep.Consume(&Message{JSONRPC: Version, ID: json.RawMessage(`"id"`), Result: json.RawMessage(`1234`)})

	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("future never resolved")
	}
	result, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, "1234", string(result.Value))
}

func TestEndpointInboundRequestWithTypedError(t *testing.T) {
	// S6: dispatcher's handler raises InvalidParams; the endpoint emits
	// that error verbatim.
	rec := &recordingConsumer{}
	m := NewMap()
	m.Register("methodName", func(_ context.Context, _ *Request) (interface{}, error) {
		return nil, InvalidParams("missing key")
	})
	ep := NewEndpoint(m, rec.consume)

	ep.Consume(&Message{JSONRPC: Version, ID: json.RawMessage(`"id"`), Method: "methodName", Params: json.RawMessage(`{}`)})

	require.Equal(t, 1, rec.count())
	resp, ok := rec.last().(*Response)
	require.True(t, ok)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestEndpointCancelOfOutboundEmitsCancelNotification(t *testing.T) {
	// S7: cancelling a pending outbound future emits $/cancelRequest
	// carrying that request's id.
	rec := &recordingConsumer{}
	ep := NewEndpoint(NewMap(), rec.consume, WithIDGenerator(fixedIDGen("id")))

	fut, err := ep.Request("m", nil)
	require.NoError(t, err)
	require.Equal(t, 1, rec.count())

	fut.Cancel()

	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("future never cancelled")
	}

	require.Equal(t, 2, rec.count())
	notif, ok := rec.last().(*Notification)
	require.True(t, ok)
	assert.Equal(t, CancelMethod, notif.Method)
	assert.JSONEq(t, `{"id":"id"}`, string(notif.Params))
}

func TestEndpointLateResponseAfterCancelIsDiscarded(t *testing.T) {
	rec := &recordingConsumer{}
	ep := NewEndpoint(NewMap(), rec.consume, WithIDGenerator(fixedIDGen("id")))

	fut, err := ep.Request("m", nil)
	require.NoError(t, err)
	fut.Cancel()
	<-fut.Done()

	// A response arriving after cancellation has no entry left to match
	// and must be discarded without error, not resurrect the future.
	ep.Consume(&Message{JSONRPC: Version, ID: json.RawMessage(`"id"`), Result: json.RawMessage(`42`)})

	result, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
}

func TestEndpointUnknownMethodGetsMethodNotFound(t *testing.T) {
	rec := &recordingConsumer{}
	ep := NewEndpoint(NewMap(), rec.consume)

	ep.Consume(&Message{JSONRPC: Version, ID: json.RawMessage(`"id"`), Method: "nope"})

	resp, ok := rec.last().(*Response)
	require.True(t, ok)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestEndpointNotificationNeverYieldsResponse(t *testing.T) {
	rec := &recordingConsumer{}
	m := NewMap()
	called := make(chan struct{}, 1)
	m.Register("notif/method", func(_ context.Context, _ *Request) (interface{}, error) {
		called <- struct{}{}
		return nil, nil
	})
	ep := NewEndpoint(m, rec.consume)

	ep.Consume(&Message{JSONRPC: Version, Method: "notif/method"})

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("notification handler never ran")
	}
	assert.Equal(t, 0, rec.count())
}

func TestEndpointAsyncHandlerResolvesLater(t *testing.T) {
	rec := &recordingConsumer{}
	m := NewMap()
	m.Register("slow/add", func(ctx context.Context, req *Request) (interface{}, error) {
		return task.Spawn(ctx, func(_ context.Context) (json.RawMessage, error) {
			return json.RawMessage(`7`), nil
		}), nil
	})
	ep := NewEndpoint(m, rec.consume)

	ep.Consume(&Message{JSONRPC: Version, ID: json.RawMessage(`"id"`), Method: "slow/add"})

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	resp, ok := rec.last().(*Response)
	require.True(t, ok)
	assert.JSONEq(t, "7", string(resp.Result))
}

func TestEndpointInboundCancelNotificationCancelsRunningTask(t *testing.T) {
	rec := &recordingConsumer{}
	m := NewMap()
	started := make(chan struct{})
	m.Register("long/running", func(ctx context.Context, req *Request) (interface{}, error) {
		fut := task.NewFuture[json.RawMessage]()
		go func() {
			close(started)
			<-ctx.Done()
		}()
		return fut, nil
	})
	ep := NewEndpoint(m, rec.consume)

	ep.Consume(&Message{JSONRPC: Version, ID: json.RawMessage(`"id"`), Method: "long/running"})
	<-started

	ep.Consume(&Message{JSONRPC: Version, Method: CancelMethod, Params: json.RawMessage(`{"id":"id"}`)})

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	resp, ok := rec.last().(*Response)
	require.True(t, ok)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRequestCancelled, resp.Error.Code)
}

func TestEndpointRequestTimeoutCancelsAndNotifies(t *testing.T) {
	rec := &recordingConsumer{}
	ep := NewEndpoint(NewMap(), rec.consume, WithIDGenerator(fixedIDGen("id")), WithRequestTimeout(20*time.Millisecond))

	fut, err := ep.Request("m", nil)
	require.NoError(t, err)

	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("request never timed out")
	}
	result, _ := fut.Wait(context.Background())
	assert.True(t, result.Cancelled)

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 10*time.Millisecond)
	notif, ok := rec.last().(*Notification)
	require.True(t, ok)
	assert.Equal(t, CancelMethod, notif.Method)
}

func TestEndpointCancelNotificationAfterResponseIsNoOp(t *testing.T) {
	// A $/cancelRequest that arrives after a request has already responded
	// finds nothing tracked for that id and must not produce a second
	// response: a cancel that arrives after the response is a no-op.
	rec := &recordingConsumer{}
	m := NewMap()
	m.Register("fast", func(_ context.Context, _ *Request) (interface{}, error) {
		return "done", nil
	})
	ep := NewEndpoint(m, rec.consume)

	ep.Consume(&Message{JSONRPC: Version, ID: json.RawMessage(`"id"`), Method: "fast"})
	require.Equal(t, 1, rec.count())

	ep.Consume(&Message{JSONRPC: Version, Method: CancelMethod, Params: json.RawMessage(`{"id":"id"}`)})

	assert.Equal(t, 1, rec.count())
	resp, ok := rec.last().(*Response)
	require.True(t, ok)
	assert.Nil(t, resp.Error)
}

func TestEndpointShutdownCancelsOutstandingRequests(t *testing.T) {
	rec := &recordingConsumer{}
	ep := NewEndpoint(NewMap(), rec.consume, WithIDGenerator(fixedIDGen("id")))

	fut, err := ep.Request("m", nil)
	require.NoError(t, err)

	ep.Shutdown()

	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("future never completed on shutdown")
	}
	result, _ := fut.Wait(context.Background())
	assert.True(t, result.Cancelled)
}
