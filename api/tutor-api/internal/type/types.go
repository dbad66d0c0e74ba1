// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package internal_type

import (
	"fmt"
	"time"
)

// =============================================================================
// Error taxonomy
// =============================================================================

// ErrorCode identifies a gateway failure class. Codes are part of the client
// protocol and are matched exactly, never case-folded.
type ErrorCode string

const (
	ErrCodeNotInitialized     ErrorCode = "not_initialized"
	ErrCodeConnectionLost     ErrorCode = "connection_lost"
	ErrCodeInsufficientAudio  ErrorCode = "insufficient_audio"
	ErrCodeResponseInProgress ErrorCode = "response_in_progress"
	ErrCodeBufferEmpty        ErrorCode = "buffer_empty"
	ErrCodeGreetingError      ErrorCode = "greeting_error"
	ErrCodeClientProtocol     ErrorCode = "client_protocol_error"
	ErrCodeUpstreamConnect    ErrorCode = "upstream_connect"
	ErrCodeUpstreamClosed     ErrorCode = "upstream_closed"
	ErrCodeUpstreamRejected   ErrorCode = "upstream_rejected"
	ErrCodeEnforcementFailed  ErrorCode = "enforcement_failed"
	ErrCodeCodecFailed        ErrorCode = "codec_failed"
)

// GatewayError carries a protocol error code alongside the underlying cause.
type GatewayError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// NewGatewayError builds a GatewayError with an optional cause.
func NewGatewayError(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{Code: code, Message: message, Cause: cause}
}

// =============================================================================
// Lifecycle state
// =============================================================================

// ResponseState tracks whether a model response is being generated. At most
// one response may be in flight per session.
type ResponseState int32

const (
	ResponseIdle ResponseState = iota
	ResponseInFlight
)

func (s ResponseState) String() string {
	if s == ResponseInFlight {
		return "in_flight"
	}
	return "idle"
}

// TTSState tracks the speech stream handle. Text may be pushed only in
// TTSOpen; Finalize is idempotent; Abort closes regardless of state.
type TTSState int32

const (
	TTSNone TTSState = iota
	TTSStarting
	TTSOpen
	TTSFinalizing
	TTSClosed
)

func (s TTSState) String() string {
	switch s {
	case TTSStarting:
		return "starting"
	case TTSOpen:
		return "open"
	case TTSFinalizing:
		return "finalizing"
	case TTSClosed:
		return "closed"
	default:
		return "none"
	}
}

// =============================================================================
// Session
// =============================================================================

// Session describes one live client connection. It lives only in memory and
// is destroyed when the client disconnects.
type Session struct {
	Id        string
	Mode      TutorMode
	UserName  string
	CreatedAt time.Time
}
