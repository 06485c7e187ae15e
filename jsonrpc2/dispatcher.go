package jsonrpc2

import "sync"

// Dispatcher locates a handler for an inbound method name. It is the only
// contract the endpoint requires from the outside world besides the byte
// stream itself.
type Dispatcher interface {
	Lookup(method string) (Handler, bool)
}

// Map is a Dispatcher backed by a concurrency-safe map, the default
// implementation most hosts register handlers into directly.
type Map struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMap returns an empty, ready-to-use Map dispatcher.
func NewMap() *Map {
	return &Map{handlers: make(map[string]Handler)}
}

// Register binds method to handler, overwriting any previous binding.
func (m *Map) Register(method string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = handler
}

// Lookup implements Dispatcher.
func (m *Map) Lookup(method string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[method]
	return h, ok
}
