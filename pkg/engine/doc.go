// Package engine implements the message-correlation core of a bidirectional
// JSON-RPC 2.0 connection.
//
// An Engine is attached to one transport.Transport with Connect. From then on
// either side may send requests and notifications:
//
//	eng := engine.New(engine.WithLogger(logger))
//	eng.SetRequestHandler("ping", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
//		return struct{}{}, nil
//	})
//	if err := eng.Connect(ctx, t); err != nil {
//		return err
//	}
//	defer eng.Close()
//
//	result, err := eng.Request(ctx, "tools/list", nil, engine.WithTimeout(5*time.Second))
//
// Every outgoing request settles exactly once: with the peer's result, with a
// *errors.RemoteError, or with an error matching errors.ErrTimeout,
// errors.ErrCancelled or errors.ErrConnectionClosed, whichever comes first.
// Later responses for the same id are ignored.
//
// Inbound requests are answered exactly once. A request for a method with no
// handler and no fallback gets a MethodNotFound error response; a handler
// error or panic becomes an error response. Inbound notification failures,
// malformed envelopes and responses for unknown ids go to the WithOnError
// observer and never reach the peer.
//
// Responses settle on the transport's delivery goroutine. Notification
// handlers run one at a time in delivery order on a goroutine owned by the
// engine, and each request's progress sink gets a goroutine of its own, so
// any handler or sink may call Request on the same engine.
package engine
