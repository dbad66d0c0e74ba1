// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package internal_type

// =============================================================================
// Client <-> Bridge WebSocket protocol
// =============================================================================

// ClientFrameType defines the type of a text frame and what fields to expect.
type ClientFrameType string

const (
	// Client -> bridge
	FrameGreeting    ClientFrameType = "greeting"
	FrameAudioCommit ClientFrameType = "audio_commit"
	FramePing        ClientFrameType = "ping"
	FrameClose       ClientFrameType = "close"

	// Bridge -> client
	FrameConnected       ClientFrameType = "connected"
	FrameGreetingDone    ClientFrameType = "greeting_done"
	FrameTranscriptDelta ClientFrameType = "transcript_delta"
	FrameTranscriptDone  ClientFrameType = "transcript_done"
	FrameResponseDone    ClientFrameType = "response_done"
	FramePong            ClientFrameType = "pong"
	FrameError           ClientFrameType = "error"
)

// ClientFrame is the envelope for every text frame exchanged with the client.
// Binary frames carry audio and have no envelope.
type ClientFrame struct {
	Type     ClientFrameType `json:"type"`
	UserName string          `json:"user_name,omitempty"`
	Mode     string          `json:"mode,omitempty"`
	Text     string          `json:"text,omitempty"`
	Code     string          `json:"code,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// ErrorFrame builds the error frame for a gateway error.
func ErrorFrame(err *GatewayError) ClientFrame {
	return ClientFrame{
		Type:    FrameError,
		Code:    string(err.Code),
		Message: err.Message,
	}
}
