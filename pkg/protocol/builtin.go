package protocol

import (
	"encoding/json"
	"fmt"
)

// Methods the engine itself understands. Everything else is opaque vocabulary
// layered on top by callers.
const (
	MethodPing                  = "ping"
	MethodProgressNotification  = "notifications/progress"
	MethodCancelledNotification = "notifications/cancelled"
)

// MetaKey is the params field that carries request metadata
const MetaKey = "_meta"

// ProgressToken identifies the outstanding request a progress update belongs to
type ProgressToken = RequestID

// ProgressParams defines parameters for the progress notification
type ProgressParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         *float64      `json:"total,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// CancelledParams defines parameters for the cancelled notification
type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// RequestMeta is the subset of _meta the engine reads
type RequestMeta struct {
	ProgressToken *ProgressToken `json:"progressToken,omitempty"`
}

// WithProgressToken returns params with _meta.progressToken set to token.
// Params must be absent or a JSON object; existing _meta fields are kept.
func WithProgressToken(params json.RawMessage, token ProgressToken) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &fields); err != nil {
			return nil, fmt.Errorf("params must be a JSON object to carry a progress token: %w", err)
		}
	}

	meta := map[string]json.RawMessage{}
	if existing, ok := fields[MetaKey]; ok && string(existing) != "null" {
		if err := json.Unmarshal(existing, &meta); err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", MetaKey, err)
		}
	}

	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	meta["progressToken"] = tokenJSON

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	fields[MetaKey] = metaJSON

	return json.Marshal(fields)
}

// ProgressTokenOf extracts _meta.progressToken from request params
func ProgressTokenOf(params json.RawMessage) (ProgressToken, bool) {
	if len(params) == 0 {
		return ProgressToken{}, false
	}
	var envelope struct {
		Meta *RequestMeta `json:"_meta"`
	}
	if err := json.Unmarshal(params, &envelope); err != nil {
		return ProgressToken{}, false
	}
	if envelope.Meta == nil || envelope.Meta.ProgressToken.IsZero() {
		return ProgressToken{}, false
	}
	return *envelope.Meta.ProgressToken, true
}
