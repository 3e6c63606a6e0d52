package engine

import (
	"context"
	"encoding/json"

	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
)

// Call sends a request and decodes the result into R
func Call[R any](ctx context.Context, e *Engine, method string, params interface{}, opts ...RequestOption) (R, error) {
	var result R

	raw, err := e.Request(ctx, method, params, opts...)
	if err != nil {
		return result, err
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return result, mcperrors.WrapError(err, mcperrors.CodeParseError, "Failed to decode result",
				mcperrors.CategoryProtocol, mcperrors.SeverityError).
				WithContext(&mcperrors.Context{Method: method, Component: "engine", Operation: "decode_result"})
		}
	}
	return result, nil
}

// Handle registers a request handler for method that decodes params into P.
// Params that do not decode are answered with an InvalidParams error.
func Handle[P, R any](e *Engine, method string, fn func(ctx context.Context, params P) (R, error)) {
	e.SetRequestHandler(method, func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		var params P
		if err := DecodeParams(req, &params); err != nil {
			return nil, err
		}
		return fn(ctx, params)
	})
}

// DecodeParams decodes the params of req into v. Absent or null params leave
// v untouched. Failures are InvalidParams errors suitable as a handler result.
func DecodeParams(req *protocol.Request, v interface{}) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return mcperrors.WrapError(err, mcperrors.CodeInvalidParams, "Invalid params",
			mcperrors.CategoryValidation, mcperrors.SeverityError).
			WithDetail(err.Error())
	}
	return nil
}

// HandleNotification registers a notification handler for method that
// decodes params into P
func HandleNotification[P any](e *Engine, method string, fn func(ctx context.Context, params P) error) {
	e.SetNotificationHandler(method, func(ctx context.Context, notif *protocol.Notification) error {
		var params P
		if len(notif.Params) > 0 && string(notif.Params) != "null" {
			if err := json.Unmarshal(notif.Params, &params); err != nil {
				return mcperrors.WrapError(err, mcperrors.CodeInvalidParams, "Invalid params",
					mcperrors.CategoryValidation, mcperrors.SeverityError)
			}
		}
		return fn(ctx, params)
	})
}
