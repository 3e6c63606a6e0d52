package mcp

import (
	"github.com/ajitpratap0/mcp-protocol-go/pkg/engine"
	mcperrors "github.com/ajitpratap0/mcp-protocol-go/pkg/errors"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-protocol-go/pkg/transport"
)

// Version represents the current version of the module
const Version = "1.0.0"

// Core types
type (
	Engine              = engine.Engine
	Config              = engine.Config
	RequestHandler      = engine.RequestHandler
	NotificationHandler = engine.NotificationHandler
	ProgressFunc        = engine.ProgressFunc
	Transport           = transport.Transport
	RequestID           = protocol.RequestID
	RemoteError         = mcperrors.RemoteError
)

// These exports provide direct access to the core components
var (
	// NewEngine creates a disconnected protocol engine
	NewEngine = engine.New

	// DefaultConfig returns the default engine configuration
	DefaultConfig = engine.DefaultConfig

	// ConfigFromEnv loads the engine configuration from MCP_* variables
	ConfigFromEnv = engine.ConfigFromEnv

	// NewStdioTransport creates a newline-delimited JSON transport
	NewStdioTransport = transport.NewStdioTransport

	// NewInMemoryPair creates two connected in-process transports
	NewInMemoryPair = transport.NewInMemoryPair
)

// Engine options
var (
	WithConfig              = engine.WithConfig
	WithLogger              = engine.WithLogger
	WithMetrics             = engine.WithMetrics
	WithTracer              = engine.WithTracer
	WithOnClose             = engine.WithOnClose
	WithOnError             = engine.WithOnError
	WithRequestTimeout      = engine.WithRequestTimeout
	WithCancelNotifications = engine.WithCancelNotifications
	WithProtocolVersion     = engine.WithProtocolVersion
)

// Request options
var (
	WithTimeout                = engine.WithTimeout
	WithProgress               = engine.WithProgress
	WithResetTimeoutOnProgress = engine.WithResetTimeoutOnProgress
)

// Error sentinels for use with errors.Is
var (
	ErrInvalidEnvelope    = mcperrors.ErrInvalidEnvelope
	ErrNotConnected       = mcperrors.ErrNotConnected
	ErrMethodNotFound     = mcperrors.ErrMethodNotFound
	ErrHandlerFailure     = mcperrors.ErrHandlerFailure
	ErrRemote             = mcperrors.ErrRemote
	ErrTimeout            = mcperrors.ErrTimeout
	ErrCancelled          = mcperrors.ErrCancelled
	ErrConnectionClosed   = mcperrors.ErrConnectionClosed
	ErrAlreadyConnected   = mcperrors.ErrAlreadyConnected
	ErrEngineClosed       = mcperrors.ErrEngineClosed
	ErrIDSpaceExhausted   = mcperrors.ErrIDSpaceExhausted
	ErrTransport          = mcperrors.ErrTransport
	ErrProtocolViolation  = mcperrors.ErrProtocolViolation
	ErrUnmatchedResponse  = mcperrors.ErrUnmatchedResponse
	ErrDuplicateRequestID = mcperrors.ErrDuplicateRequestID
)
