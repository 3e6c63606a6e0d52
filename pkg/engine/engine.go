package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/logging"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/observability"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/transport"
)

// State is the connection state of an Engine
type State int

const (
	// StateDisconnected is the initial state
	StateDisconnected State = iota
	// StateConnected means a transport is attached
	StateConnected
	// StateClosed is terminal
	StateClosed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// Request outcome labels used for metrics and spans
const (
	statusSuccess     = "success"
	statusRemoteError = "remote_error"
	statusTimeout     = "timeout"
	statusCancelled   = "cancelled"
	statusClosed      = "closed"
	statusSendError   = "send_error"
	statusError       = "error"
)

// Engine correlates requests and responses over one transport. Either side of
// a connection may send requests and notifications; the engine is symmetric.
//
// An Engine is used once: after Close it cannot be connected again.
type Engine struct {
	config    Config
	logger    logging.Logger
	metrics   observability.MetricsProvider
	tracer    *observability.TracingProvider
	sessionID string

	ids      *IDAllocator
	pending  *pendingTable
	handlers *handlerRegistry

	mu        sync.Mutex // Protects state, transport and notifications
	state     State
	transport transport.Transport

	// notifications runs notification handlers in delivery order, off the
	// transport's goroutine
	notifications *taskQueue

	// baseCtx is cancelled on close; inbound handlers derive from it
	baseCtx    context.Context
	cancelBase context.CancelFunc

	inflightMu sync.Mutex
	inflight   map[string]*inflightRequest

	onClose   func()
	onError   func(error)
	closeOnce sync.Once
}

// inflightRequest tracks an inbound request whose handler is running
type inflightRequest struct {
	cancel          context.CancelFunc
	cancelledByPeer bool
}

// New creates a disconnected engine
func New(opts ...Option) *Engine {
	e := &Engine{
		config:    DefaultConfig(),
		logger:    logging.NewNopLogger(),
		metrics:   observability.NewNoopMetricsProvider(),
		sessionID: uuid.New().String(),
		ids:       NewIDAllocator(0),
		pending:   newPendingTable(),
		handlers:  newHandlerRegistry(),
		inflight:  make(map[string]*inflightRequest),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.WithFields(
		logging.String("component", "engine"),
		logging.String("session_id", e.sessionID),
	)
	e.baseCtx, e.cancelBase = context.WithCancel(context.Background())

	if e.config.EnablePing {
		e.handlers.setRequestHandler(protocol.MethodPing, func(ctx context.Context, req *protocol.Request) (interface{}, error) {
			return struct{}{}, nil
		})
	}

	return e
}

// SessionID returns the random id that tags this engine's logs and spans
func (e *Engine) SessionID() string {
	return e.sessionID
}

// State returns the current connection state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PendingCount returns the number of outgoing requests awaiting settlement
func (e *Engine) PendingCount() int {
	return e.pending.len()
}

// Connect attaches t and starts it. The engine takes over t's three callback
// slots; nothing else may drive them afterwards. Connect fails if a transport
// is already attached or the engine was closed.
func (e *Engine) Connect(ctx context.Context, t transport.Transport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	switch e.state {
	case StateConnected:
		e.mu.Unlock()
		return mcperrors.AlreadyConnected()
	case StateClosed:
		e.mu.Unlock()
		return mcperrors.EngineClosed()
	}
	e.state = StateConnected
	e.transport = t
	e.notifications = newTaskQueue()
	e.mu.Unlock()

	t.SetMessageHandler(e.handleMessage)
	t.SetCloseHandler(e.handleTransportClose)
	t.SetErrorHandler(e.handleTransportError)

	if err := t.Start(e.baseCtx); err != nil {
		e.mu.Lock()
		if e.state == StateConnected {
			e.state = StateDisconnected
			e.transport = nil
			e.notifications.close(false)
			e.notifications = nil
		}
		e.mu.Unlock()

		e.logger.WithError(err).Error("Failed to start transport")
		return mcperrors.TransportError("start", err)
	}

	e.metrics.RecordConnectionState(ctx, StateConnected.String())
	e.logger.Info("Engine connected")
	return nil
}

// Close detaches the engine. It closes the transport, fails every
// outstanding request with mcperrors.ErrConnectionClosed and fires the
// close observer once. Later calls do nothing.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosed
	t := e.transport
	e.mu.Unlock()

	var err error
	if t != nil {
		if cerr := t.Close(); cerr != nil {
			err = mcperrors.TransportError("close", cerr)
		}
	}

	e.shutdown(nil)
	return err
}

// handleTransportClose runs the close path when the transport goes away
func (e *Engine) handleTransportClose() {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	e.state = StateClosed
	e.mu.Unlock()

	e.logger.Info("Transport closed")
	e.shutdown(errors.New("transport closed"))
}

// shutdown releases everything tied to the connection. The caller has
// already moved the state to closed.
func (e *Engine) shutdown(reason error) {
	e.closeOnce.Do(func() {
		e.cancelBase()

		// Not waited for: shutdown may run inside a notification handler
		e.mu.Lock()
		if e.notifications != nil {
			e.notifications.close(false)
		}
		e.mu.Unlock()

		drained := e.pending.drainAll(mcperrors.ConnectionClosed(reason))
		e.metrics.RecordConnectionState(context.Background(), StateClosed.String())
		e.logger.Info("Engine closed", logging.Int("drained_requests", drained))

		if e.onClose != nil {
			e.onClose()
		}
	})
}

func (e *Engine) handleTransportError(err error) {
	e.reportError("", err)
}

// reportError sends an out-of-band condition to the error observer
func (e *Engine) reportError(method string, err error) {
	e.metrics.RecordError(context.Background(), mcperrors.KindName(err), method)
	e.logger.WithError(err).Warn("Engine error", logging.String("method", method))

	if e.onError != nil {
		e.onError(err)
	}
}

// connectedTransport returns the attached transport or a NotConnected error
func (e *Engine) connectedTransport(operation string) (transport.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateConnected {
		return nil, mcperrors.NotConnected(operation)
	}
	return e.transport, nil
}

// SetRequestHandler registers handler for method, replacing any existing one
func (e *Engine) SetRequestHandler(method string, handler RequestHandler) {
	e.handlers.setRequestHandler(method, handler)
}

// RemoveRequestHandler removes the handler for method
func (e *Engine) RemoveRequestHandler(method string) {
	e.handlers.removeRequestHandler(method)
}

// SetNotificationHandler registers handler for method, replacing any existing one.
// Notification handlers run one at a time in delivery order on a goroutine
// owned by the engine, so a handler may call Request on this engine while
// responses keep flowing.
func (e *Engine) SetNotificationHandler(method string, handler NotificationHandler) {
	e.handlers.setNotificationHandler(method, handler)
}

// RemoveNotificationHandler removes the handler for method
func (e *Engine) RemoveNotificationHandler(method string) {
	e.handlers.removeNotificationHandler(method)
}

// SetFallbackRequestHandler handles requests for methods with no handler. Nil
// restores MethodNotFound responses.
func (e *Engine) SetFallbackRequestHandler(handler RequestHandler) {
	e.handlers.setFallbackRequestHandler(handler)
}

// SetFallbackNotificationHandler handles notifications for methods with no
// handler. Nil drops them.
func (e *Engine) SetFallbackNotificationHandler(handler NotificationHandler) {
	e.handlers.setFallbackNotificationHandler(handler)
}

// Request sends method with params and waits for the matching response.
//
// It fails with *mcperrors.RemoteError when the peer answers with an error,
// and with errors matching mcperrors.ErrTimeout, ErrCancelled,
// ErrConnectionClosed or ErrNotConnected otherwise. A ctx deadline counts as
// a timeout and ctx cancellation as a cancel.
func (e *Engine) Request(ctx context.Context, method string, params interface{}, opts ...RequestOption) (json.RawMessage, error) {
	t, err := e.connectedTransport("request")
	if err != nil {
		return nil, err
	}

	options := requestOptions{timeout: e.config.RequestTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	id, err := e.ids.Next()
	if err != nil {
		return nil, err
	}

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.WrapError(err, mcperrors.CodeInvalidParams, "Invalid params",
			mcperrors.CategoryValidation, mcperrors.SeverityError)
	}
	req.JSONRPC = e.config.ProtocolVersion

	if options.progress != nil {
		if req.Params, err = protocol.WithProgressToken(req.Params, id); err != nil {
			return nil, mcperrors.WrapError(err, mcperrors.CodeInvalidParams, "Invalid params",
				mcperrors.CategoryValidation, mcperrors.SeverityError)
		}
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, mcperrors.WrapError(err, mcperrors.CodeInternalError, "Failed to encode request",
			mcperrors.CategoryInternal, mcperrors.SeverityError)
	}

	p := newPendingRequest(id, method)
	p.timeout = options.timeout
	p.progress = options.progress
	p.resetOnProgress = options.resetOnProgress
	p.maxTotalTimeout = options.maxTotalTimeout

	if err := e.pending.register(p); err != nil {
		return nil, err
	}
	e.metrics.RecordPending(ctx, 1)

	ctx, span := e.tracer.StartMethodSpan(ctx, method, trace.SpanKindClient,
		observability.AttrRequestID.String(id.String()),
		observability.AttrSessionID.String(e.sessionID),
	)

	logger := e.logger.WithFields(
		logging.String("method", method),
		logging.String("request_id", id.String()),
	)
	logger.Debug("Sending request")

	sent := false
	switch {
	case e.State() != StateConnected:
		// A close that raced registration has already drained the table
		e.pending.settle(p.key, outcome{err: mcperrors.ConnectionClosed(nil)})
	case ctx.Err() != nil:
		e.pending.settle(p.key, outcome{err: contextError(ctx, method, id, p.sentAt)})
	default:
		if err := t.Send(ctx, data); err != nil {
			var cause error = mcperrors.TransportError("send", err)
			if ctx.Err() != nil {
				cause = contextError(ctx, method, id, p.sentAt)
			}
			e.pending.settle(p.key, outcome{err: cause})
		} else {
			sent = true
		}
	}

	var out outcome
	select {
	case out = <-p.done:
	case <-ctx.Done():
		// A lost race leaves the winner's outcome in p.done
		e.pending.settle(p.key, outcome{err: contextError(ctx, method, id, p.sentAt)})
		out = <-p.done
	}

	status := requestStatus(out.err)
	p.finishProgress(status == statusSuccess || status == statusRemoteError)
	duration := time.Since(p.sentAt)
	e.metrics.RecordPending(ctx, -1)
	e.metrics.RecordRequest(ctx, method, status, duration)
	observability.EndSpan(span, status, out.err)

	if out.err != nil {
		logger.WithError(out.err).Debug("Request failed", logging.Duration("duration", duration))
		if sent && (status == statusTimeout || status == statusCancelled) {
			e.sendCancelled(id, status)
		}
		return nil, out.err
	}

	logger.Debug("Request completed", logging.Duration("duration", duration))
	return out.result, nil
}

// contextError maps a done ctx to the Timeout or Cancelled settlement
func contextError(ctx context.Context, method string, id protocol.RequestID, sentAt time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return mcperrors.Timeout(method, id, time.Since(sentAt))
	}
	return mcperrors.Cancelled(method, id, ctx.Err())
}

// requestStatus maps a settlement to its metrics label
func requestStatus(err error) string {
	switch {
	case err == nil:
		return statusSuccess
	case errors.Is(err, mcperrors.ErrRemote):
		return statusRemoteError
	case errors.Is(err, mcperrors.ErrTimeout):
		return statusTimeout
	case errors.Is(err, mcperrors.ErrCancelled):
		return statusCancelled
	case errors.Is(err, mcperrors.ErrConnectionClosed):
		return statusClosed
	case errors.Is(err, mcperrors.ErrTransport):
		return statusSendError
	default:
		return statusError
	}
}

// sendCancelled tells the peer that this side gave up on id. It is best
// effort: failures are only logged.
func (e *Engine) sendCancelled(id protocol.RequestID, reason string) {
	if !e.config.SendCancelNotifications {
		return
	}

	params := protocol.CancelledParams{RequestID: id, Reason: reason}
	if err := e.Notify(e.baseCtx, e.config.CancelledMethod, params); err != nil {
		e.logger.WithError(err).Debug("Failed to send cancellation notice",
			logging.String("request_id", id.String()))
	}
}

// Notify sends a notification. It returns once the transport accepted it;
// there is no acknowledgement from the peer.
func (e *Engine) Notify(ctx context.Context, method string, params interface{}) error {
	t, err := e.connectedTransport("notification")
	if err != nil {
		return err
	}

	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.WrapError(err, mcperrors.CodeInvalidParams, "Invalid params",
			mcperrors.CategoryValidation, mcperrors.SeverityError)
	}
	notif.JSONRPC = e.config.ProtocolVersion

	data, err := json.Marshal(notif)
	if err != nil {
		return mcperrors.WrapError(err, mcperrors.CodeInternalError, "Failed to encode notification",
			mcperrors.CategoryInternal, mcperrors.SeverityError)
	}

	start := time.Now()
	if err := t.Send(ctx, data); err != nil {
		e.metrics.RecordNotification(ctx, method, statusSendError, time.Since(start))
		return mcperrors.TransportError("send", err)
	}

	e.metrics.RecordNotification(ctx, method, statusSuccess, time.Since(start))
	return nil
}

// NotifyProgress sends a progress update for token, typically one taken from
// an inbound request with protocol.ProgressTokenOf
func (e *Engine) NotifyProgress(ctx context.Context, token protocol.ProgressToken, progress float64, total *float64, message string) error {
	return e.Notify(ctx, e.config.ProgressMethod, protocol.ProgressParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// handleMessage is the transport's message callback
func (e *Engine) handleMessage(data []byte) {
	if e.State() == StateClosed {
		e.logger.Debug("Dropping message received after close")
		return
	}

	msg, err := protocol.ValidateVersion(data, e.config.ProtocolVersion)
	if err != nil {
		e.reportError("", mcperrors.InvalidEnvelope(err.Error(), err))
		return
	}

	switch msg.Kind() {
	case protocol.KindRequest:
		e.handleRequest(msg.AsRequest())
	case protocol.KindResponse:
		e.handleResponse(msg.AsResponse())
	case protocol.KindNotification:
		e.handleNotification(msg.AsNotification())
	default:
		e.reportError(msg.Method, mcperrors.ProtocolViolation("envelope is neither a request, a response nor a notification"))
	}
}

// handleResponse settles the pending request the response names. Late
// responses for ids this engine issued are ignored; responses for ids it
// never issued are reported.
func (e *Engine) handleResponse(resp *protocol.Response) {
	out := outcome{result: resp.Result}
	if resp.Error != nil {
		out = outcome{err: mcperrors.FromJSONRPCError(resp.Error)}
	}

	if e.pending.settle(resp.ID.String(), out) {
		return
	}

	if e.ids.Issued(resp.ID) {
		e.logger.Debug("Ignoring response for settled request",
			logging.String("request_id", resp.ID.String()))
		return
	}
	e.reportError("", mcperrors.UnmatchedResponse(resp.ID))
}

// handleRequest dispatches an inbound request. Handlers run on their own
// goroutine so they may issue requests on this engine.
func (e *Engine) handleRequest(req *protocol.Request) {
	handler := e.handlers.requestHandler(req.Method)
	if handler == nil {
		e.metrics.RecordIncomingRequest(e.baseCtx, req.Method, "method_not_found", 0)
		e.sendError(req, mcperrors.MethodNotFound(req.Method))
		return
	}

	key := inflightKey(req.ID)
	ctx, cancel := context.WithCancel(e.baseCtx)

	e.inflightMu.Lock()
	if _, exists := e.inflight[key]; exists {
		e.inflightMu.Unlock()
		cancel()
		e.sendError(req, mcperrors.DuplicateRequestID(req.ID))
		return
	}
	entry := &inflightRequest{cancel: cancel}
	e.inflight[key] = entry
	e.inflightMu.Unlock()

	ctx = logging.ContextWithRequestID(ctx, req.ID.String())
	go e.runRequestHandler(ctx, entry, req, handler)
}

// inflightKey keeps string and numeric ids with the same text apart
func inflightKey(id protocol.RequestID) string {
	if id.IsString() {
		return "s:" + id.String()
	}
	return "n:" + id.String()
}

func (e *Engine) runRequestHandler(ctx context.Context, entry *inflightRequest, req *protocol.Request, handler RequestHandler) {
	key := inflightKey(req.ID)
	idText := req.ID.String()
	start := time.Now()

	ctx, span := e.tracer.StartMethodSpan(ctx, req.Method, trace.SpanKindServer,
		observability.AttrRequestID.String(idText),
		observability.AttrSessionID.String(e.sessionID),
	)

	result, err := e.invokeRequestHandler(ctx, handler, req)

	e.inflightMu.Lock()
	delete(e.inflight, key)
	peerCancelled := entry.cancelledByPeer
	e.inflightMu.Unlock()
	entry.cancel()

	duration := time.Since(start)

	if peerCancelled {
		e.metrics.RecordIncomingRequest(ctx, req.Method, statusCancelled, duration)
		observability.EndSpan(span, statusCancelled, err)
		e.logger.Debug("Dropping response to request cancelled by peer",
			logging.String("method", req.Method), logging.String("request_id", idText))
		return
	}

	if err != nil {
		failure := mcperrors.HandlerFailure(req.Method, err)
		e.metrics.RecordIncomingRequest(ctx, req.Method, statusError, duration)
		observability.EndSpan(span, statusError, failure)
		e.logger.WithError(err).Error("Request handler failed",
			logging.String("method", req.Method),
			logging.String("request_id", idText),
			logging.Duration("duration", duration))
		e.sendError(req, failure)
		return
	}

	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		failure := mcperrors.HandlerFailure(req.Method, err)
		e.metrics.RecordIncomingRequest(ctx, req.Method, statusError, duration)
		observability.EndSpan(span, statusError, failure)
		e.sendError(req, failure)
		return
	}

	e.metrics.RecordIncomingRequest(ctx, req.Method, statusSuccess, duration)
	observability.EndSpan(span, statusSuccess, nil)
	e.sendResponse(resp)
}

// invokeRequestHandler calls handler, turning a panic into an error
func (e *Engine) invokeRequestHandler(ctx context.Context, handler RequestHandler, req *protocol.Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic in request handler",
				logging.String("method", req.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			result, err = nil, fmt.Errorf("panic in handler for %s: %v", req.Method, r)
		}
	}()
	return handler(ctx, req)
}

// sendError answers req with the wire form of err
func (e *Engine) sendError(req *protocol.Request, err error) {
	resp, convErr := mcperrors.ToJSONRPCResponse(err, req.ID)
	if convErr != nil {
		e.reportError(req.Method, convErr)
		return
	}
	e.sendResponse(resp)
}

// sendResponse writes resp to the transport, if one is still attached
func (e *Engine) sendResponse(resp *protocol.Response) {
	resp.JSONRPC = e.config.ProtocolVersion

	t, err := e.connectedTransport("response")
	if err != nil {
		e.logger.Debug("Dropping response after close", logging.String("request_id", resp.ID.String()))
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		// Usually unencodable error data; the peer still gets an answer
		data, err = json.Marshal(protocol.NewErrorResponse(resp.ID, protocol.InternalError, "Failed to encode response", nil))
		if err != nil {
			e.reportError("", err)
			return
		}
	}

	if err := t.Send(e.baseCtx, data); err != nil {
		e.reportError("", mcperrors.TransportError("send", err))
	}
}

// handleNotification routes progress and cancellation notices to the engine
// and everything else to the registered handlers
func (e *Engine) handleNotification(notif *protocol.Notification) {
	switch notif.Method {
	case e.config.ProgressMethod:
		e.handleProgress(notif)
		return
	case e.config.CancelledMethod:
		e.handleCancelled(notif)
	}

	handler := e.handlers.notificationHandler(notif.Method)
	if handler == nil {
		if notif.Method != e.config.CancelledMethod {
			e.logger.Debug("No handler for notification", logging.String("method", notif.Method))
		}
		return
	}

	e.mu.Lock()
	queue := e.notifications
	e.mu.Unlock()

	if queue == nil || !queue.push(func() { e.runNotificationHandler(handler, notif) }) {
		e.logger.Debug("Dropping notification after close", logging.String("method", notif.Method))
	}
}

func (e *Engine) runNotificationHandler(handler NotificationHandler, notif *protocol.Notification) {
	start := time.Now()
	if err := e.invokeNotificationHandler(handler, notif); err != nil {
		e.metrics.RecordIncomingNotification(e.baseCtx, notif.Method, statusError, time.Since(start))
		e.reportError(notif.Method, mcperrors.HandlerFailure(notif.Method, err))
		return
	}
	e.metrics.RecordIncomingNotification(e.baseCtx, notif.Method, statusSuccess, time.Since(start))
}

// invokeNotificationHandler calls handler, turning a panic into an error
func (e *Engine) invokeNotificationHandler(handler NotificationHandler, notif *protocol.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in notification handler for %s: %v", notif.Method, r)
		}
	}()
	return handler(e.baseCtx, notif)
}

func (e *Engine) handleProgress(notif *protocol.Notification) {
	var update protocol.ProgressParams
	if err := json.Unmarshal(notif.Params, &update); err != nil || update.ProgressToken.IsZero() {
		e.reportError(notif.Method, mcperrors.ProtocolViolation("progress notification without a valid progress token"))
		return
	}

	routed := e.pending.routeProgress(update)
	e.metrics.RecordProgress(e.baseCtx, routed)
	if !routed {
		e.logger.Debug("Dropping progress for unknown token",
			logging.String("progress_token", update.ProgressToken.String()))
	}
}

// handleCancelled stops the handler of an inbound request the peer abandoned
func (e *Engine) handleCancelled(notif *protocol.Notification) {
	var params protocol.CancelledParams
	if err := json.Unmarshal(notif.Params, &params); err != nil || params.RequestID.IsZero() {
		e.logger.Debug("Ignoring malformed cancellation notice")
		return
	}

	e.inflightMu.Lock()
	entry, ok := e.inflight[inflightKey(params.RequestID)]
	if ok {
		entry.cancelledByPeer = true
	}
	e.inflightMu.Unlock()

	if ok {
		entry.cancel()
		e.logger.Debug("Request cancelled by peer",
			logging.String("request_id", params.RequestID.String()),
			logging.String("reason", params.Reason))
	}
}
