package engine

import (
	"context"
	"sync"

	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

// RequestHandler answers an inbound request. The returned value is encoded as
// the response result; a json.RawMessage is sent as is. A returned error is
// sent to the peer as an error response.
type RequestHandler func(ctx context.Context, req *protocol.Request) (interface{}, error)

// NotificationHandler processes an inbound notification. Errors are reported
// locally and never reach the peer.
type NotificationHandler func(ctx context.Context, notif *protocol.Notification) error

// handlerRegistry holds the per-method handler tables and the two fallbacks.
// Setting a method that already has a handler replaces it.
type handlerRegistry struct {
	mu                   sync.RWMutex
	requests             map[string]RequestHandler
	notifications        map[string]NotificationHandler
	fallbackRequest      RequestHandler
	fallbackNotification NotificationHandler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
	}
}

func (r *handlerRegistry) setRequestHandler(method string, handler RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handler == nil {
		delete(r.requests, method)
		return
	}
	r.requests[method] = handler
}

func (r *handlerRegistry) removeRequestHandler(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, method)
}

func (r *handlerRegistry) setNotificationHandler(method string, handler NotificationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handler == nil {
		delete(r.notifications, method)
		return
	}
	r.notifications[method] = handler
}

func (r *handlerRegistry) removeNotificationHandler(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notifications, method)
}

func (r *handlerRegistry) setFallbackRequestHandler(handler RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbackRequest = handler
}

func (r *handlerRegistry) setFallbackNotificationHandler(handler NotificationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbackNotification = handler
}

// requestHandler returns the handler for method, else the fallback, else nil
func (r *handlerRegistry) requestHandler(method string) RequestHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.requests[method]; ok {
		return h
	}
	return r.fallbackRequest
}

// notificationHandler returns the handler for method, else the fallback, else nil
func (r *handlerRegistry) notificationHandler(method string) NotificationHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.notifications[method]; ok {
		return h
	}
	return r.fallbackNotification
}
