// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.

// Package internal_adapter wires one client WebSocket to its two upstream
// legs: the realtime speech model and the streaming text-to-speech service.
package internal_adapter

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	internal_audio "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/audio"
	internal_sentence_assembler "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/assembler/text"
	channel_base "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/channel/base"
	internal_enforcer "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/enforcer"
	internal_transformer "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/transformer"
	internal_type "github.com/speaklab-ai/voice-gateway/api/tutor-api/internal/type"
	"github.com/speaklab-ai/voice-gateway/config"
	"github.com/speaklab-ai/voice-gateway/pkg/commons"
	"github.com/speaklab-ai/voice-gateway/pkg/utils"
)

// ClientStream is the client-facing socket surface the bridge needs. A
// gorilla websocket connection satisfies it.
type ClientStream interface {
	ReadMessage() (messageType int, payload []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// SpeechModelFactory opens a speech model transformer bound to the given
// callbacks.
type SpeechModelFactory func(callbacks internal_transformer.SpeechModelCallbacks) (internal_transformer.SpeechModelTransformer, error)

// TextToSpeechFactory opens a synthesis transformer bound to the given
// callbacks. One stream is opened per spoken response.
type TextToSpeechFactory func(callbacks internal_transformer.TextToSpeechCallbacks) (internal_transformer.TextToSpeechTransformer, error)

// Bridge owns one client session end to end: the client read loop, the model
// receive loop and the speech receive loop all converge here. All writes to
// the client socket go through clientMu.
type Bridge struct {
	logger      commons.Logger
	smootherCfg *config.SmootherConfig

	newModel   SpeechModelFactory
	newSpeaker TextToSpeechFactory

	codec    *internal_audio.Codec
	flusher  *internal_sentence_assembler.SegmentFlusher
	enforcer *internal_enforcer.Enforcer
	smoother *channel_base.Smoother

	clientMu     sync.Mutex
	client       ClientStream
	disconnected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	stateMu          sync.Mutex
	session          *internal_type.Session
	model            internal_transformer.SpeechModelTransformer
	tts              internal_transformer.TextToSpeechTransformer
	sessionReady     bool
	queuedMode       internal_type.TutorMode
	hasQueuedMode    bool
	transcript       strings.Builder
	responseDoneSent bool
}

// NewBridge builds a bridge for a single client connection.
func NewBridge(
	logger commons.Logger,
	codec *internal_audio.Codec,
	enforcer *internal_enforcer.Enforcer,
	smootherCfg *config.SmootherConfig,
	newModel SpeechModelFactory,
	newSpeaker TextToSpeechFactory,
) *Bridge {
	return &Bridge{
		logger:      logger,
		smootherCfg: smootherCfg,
		newModel:    newModel,
		newSpeaker:  newSpeaker,
		codec:       codec,
		flusher:     internal_sentence_assembler.NewSegmentFlusher(),
		enforcer:    enforcer,
	}
}

// Serve accepts one client WebSocket and runs to completion of that session.
func (b *Bridge) Serve(ctx context.Context, client ClientStream) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	b.client = client
	b.smoother = channel_base.NewSmoother(b.logger, internal_audio.SpeakerRate, b.sendBinary,
		channel_base.WithThresholds(b.smootherCfg))

	// a trailing sub-threshold chunk must not sit buffered until the next
	// push, so the time-based rule runs on its own ticker
	utils.Go(b.ctx, func() {
		ticker := time.NewTicker(b.smoother.MaxWait() / 2)
		defer ticker.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
				b.smoother.Tick()
			}
		}
	})

	b.sendFrame(internal_type.ClientFrame{Type: internal_type.FrameConnected})

	defer b.teardown()
	for {
		messageType, payload, err := client.ReadMessage()
		if err != nil {
			b.logger.Infof("bridge: client read loop exiting: %v", err)
			return nil
		}

		switch messageType {
		case websocket.BinaryMessage:
			b.handleAudio(payload)
		case websocket.TextMessage:
			var frame internal_type.ClientFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				b.sendError(internal_type.NewGatewayError(internal_type.ErrCodeClientProtocol, "malformed client frame", err))
				continue
			}
			switch frame.Type {
			case internal_type.FrameGreeting:
				b.handleGreeting(&frame)
			case internal_type.FrameAudioCommit:
				b.handleCommit()
			case internal_type.FramePing:
				b.sendFrame(internal_type.ClientFrame{Type: internal_type.FramePong})
			case internal_type.FrameClose:
				return nil
			default:
				b.sendError(internal_type.NewGatewayError(internal_type.ErrCodeClientProtocol, "unknown frame type", nil))
			}
		}
	}
}

// Session returns the session descriptor, nil before the first greeting.
func (b *Bridge) Session() *internal_type.Session {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.session
}

// =============================================================================
// Client-facing operations
// =============================================================================

func (b *Bridge) handleAudio(blob []byte) {
	b.stateMu.Lock()
	model := b.model
	b.stateMu.Unlock()
	if model == nil {
		b.sendError(internal_type.NewGatewayError(internal_type.ErrCodeNotInitialized, "greeting required before audio", nil))
		return
	}

	pcm, err := b.codec.DecodeToPCM(blob)
	if err != nil {
		// one bad blob is not fatal, drop it
		b.sendError(internal_type.NewGatewayError(internal_type.ErrCodeCodecFailed, "unable to decode audio blob", err))
		return
	}
	if err := model.SendAudio(b.ctx, pcm); err != nil {
		b.sendError(asGatewayError(err))
	}
}

func (b *Bridge) handleGreeting(frame *internal_type.ClientFrame) {
	mode := internal_type.ParseTutorMode(frame.Mode)

	b.stateMu.Lock()
	first := b.model == nil
	if first {
		b.session = &internal_type.Session{
			Id:        uuid.NewString(),
			Mode:      mode,
			UserName:  frame.UserName,
			CreatedAt: time.Now(),
		}
	} else {
		b.session.Mode = mode
		b.session.UserName = frame.UserName
	}
	b.stateMu.Unlock()

	if first {
		start := time.Now()
		model, err := b.newModel(b.modelCallbacks())
		if err == nil {
			err = model.Connect(b.ctx, mode.Instructions())
		}
		if err != nil {
			b.logger.Errorf("bridge: speech model connect failed: %v", err)
			b.sendError(asGatewayError(err))
			return
		}
		b.logger.Benchmark("Bridge.Connect", time.Since(start))
		b.stateMu.Lock()
		b.model = model
		b.stateMu.Unlock()
		b.logger.Infof("bridge: session %s connected, mode=%s", b.Session().Id, mode)
	} else {
		// mode switch: same socket, new system prompt
		b.applyMode(mode)
	}

	b.speakGreeting(mode.Greeting(frame.UserName))
}

// speakGreeting speaks one template turn through a short-lived synthesis
// stream and completes the response cycle around it.
func (b *Bridge) speakGreeting(greeting string) {
	start := time.Now()
	b.startResponse()

	tts, err := b.openSpeaker()
	if err != nil {
		b.logger.Errorf("bridge: greeting synthesis unavailable: %v", err)
		b.sendError(internal_type.NewGatewayError(internal_type.ErrCodeGreetingError, "greeting synthesis unavailable", err))
	}

	b.sendFrame(internal_type.ClientFrame{Type: internal_type.FrameGreetingDone, Text: greeting})

	if tts != nil {
		if err := tts.SendText(b.ctx, greeting+" "); err != nil {
			b.logger.Warnf("bridge: greeting push failed: %v", err)
		}
		// the greeting is one complete turn, drain it right away
		tts.Finalize(b.ctx)
		b.clearSpeaker(tts)
	}
	b.emitResponseDone()
	b.logger.Benchmark("Bridge.Greeting", time.Since(start))
}

func (b *Bridge) handleCommit() {
	b.stateMu.Lock()
	model := b.model
	b.stateMu.Unlock()
	if model == nil {
		b.sendError(internal_type.NewGatewayError(internal_type.ErrCodeNotInitialized, "greeting required before commit", nil))
		return
	}

	// per-response state clears before the commit goes out, so a delta
	// racing the commit acknowledgement is never erased. A commit rejected
	// with response_in_progress must not touch the live response, hence the
	// idle check.
	if model.ResponseState() == internal_type.ResponseIdle {
		b.startResponse()
	}
	if err := model.CommitAndRespond(b.ctx); err != nil {
		b.sendError(asGatewayError(err))
		return
	}
}

// startResponse clears the per-response text and audio state so responses
// never bleed into each other.
func (b *Bridge) startResponse() {
	b.stateMu.Lock()
	b.transcript.Reset()
	b.responseDoneSent = false
	b.stateMu.Unlock()

	b.flusher.Reset()
	b.enforcer.Reset()
	b.smoother.ForceFlush()
}

// =============================================================================
// Speech model callbacks
// =============================================================================

func (b *Bridge) modelCallbacks() internal_transformer.SpeechModelCallbacks {
	return internal_transformer.SpeechModelCallbacks{
		OnSessionCreated: b.onSessionReady,
		OnSessionUpdated: b.onSessionReady,
		OnTextDelta:      b.onTextDelta,
		OnTextDone:       b.onTextDone,
		OnResponseDone:   b.onResponseDone,
		OnError: func(code internal_type.ErrorCode, message string) {
			b.sendError(internal_type.NewGatewayError(code, message, nil))
		},
		OnClosed: b.onModelClosed,
	}
}

func (b *Bridge) onSessionReady() {
	b.stateMu.Lock()
	b.sessionReady = true
	apply := b.hasQueuedMode
	mode := b.queuedMode
	b.hasQueuedMode = false
	b.stateMu.Unlock()

	if apply {
		b.applyMode(mode)
	}
}

// applyMode pushes the mode's system prompt upstream, queueing it when the
// session is not ready yet.
func (b *Bridge) applyMode(mode internal_type.TutorMode) {
	b.stateMu.Lock()
	model := b.model
	if !b.sessionReady {
		b.queuedMode = mode
		b.hasQueuedMode = true
		b.stateMu.Unlock()
		return
	}
	b.stateMu.Unlock()

	if model == nil {
		return
	}
	if err := model.UpdateInstructions(b.ctx, mode.Instructions()); err != nil {
		b.sendError(asGatewayError(err))
	}
}

func (b *Bridge) onTextDelta(delta string) {
	if !b.enforcer.OnDelta(delta) {
		// monitored script seen: nothing reaches the client or the speaker
		// until the rewritten final text arrives
		return
	}

	b.stateMu.Lock()
	b.transcript.WriteString(delta)
	cumulative := b.transcript.String()
	b.stateMu.Unlock()

	b.sendFrame(internal_type.ClientFrame{Type: internal_type.FrameTranscriptDelta, Text: cumulative})

	b.flusher.Append(delta)
	if segment, ok := b.flusher.Flush(false); ok {
		b.speakSegment(segment)
	}
}

func (b *Bridge) onTextDone(fullText string, ok bool) {
	if !ok {
		fullText = ""
	}
	final, err := b.enforcer.Finalize(b.ctx, fullText)
	if err != nil {
		// the fallback text is already substituted, the client never sees this
		b.logger.Warnf("bridge: enforcement degraded: %v", err)
	}

	if b.enforcer.Triggered() {
		// the rewrite replaces everything buffered for synthesis
		b.flusher.Reset()
		b.flusher.Append(final)
		b.stateMu.Lock()
		b.transcript.Reset()
		b.transcript.WriteString(final)
		b.stateMu.Unlock()
	}

	b.sendFrame(internal_type.ClientFrame{Type: internal_type.FrameTranscriptDone, Text: final})

	if segment, ok := b.flusher.Flush(true); ok {
		b.speakSegment(segment)
	}
}

func (b *Bridge) onResponseDone() {
	b.stateMu.Lock()
	tts := b.tts
	b.stateMu.Unlock()

	if tts != nil {
		// blocks until the remaining audio has drained through the smoother
		tts.Finalize(b.ctx)
		b.clearSpeaker(tts)
	}
	b.emitResponseDone()
}

func (b *Bridge) onModelClosed(err error) {
	b.logger.Errorf("bridge: speech model connection lost: %v", err)
	b.sendError(internal_type.NewGatewayError(internal_type.ErrCodeConnectionLost, "speech model connection lost", err))
	b.cancel()
	b.clientMu.Lock()
	if b.client != nil {
		b.client.Close()
	}
	b.clientMu.Unlock()
}

// emitResponseDone closes out the response exactly once, after the last
// binary frame for it has been flushed.
func (b *Bridge) emitResponseDone() {
	b.stateMu.Lock()
	if b.responseDoneSent {
		b.stateMu.Unlock()
		return
	}
	b.responseDoneSent = true
	b.stateMu.Unlock()

	b.smoother.ForceFlush()
	b.sendFrame(internal_type.ClientFrame{Type: internal_type.FrameResponseDone})
}

// =============================================================================
// Text to speech
// =============================================================================

// openSpeaker returns the live synthesis stream, opening a fresh one when
// none is active.
func (b *Bridge) openSpeaker() (internal_transformer.TextToSpeechTransformer, error) {
	b.stateMu.Lock()
	if b.tts != nil && b.tts.State() == internal_type.TTSOpen {
		tts := b.tts
		b.stateMu.Unlock()
		return tts, nil
	}
	b.stateMu.Unlock()

	tts, err := b.newSpeaker(internal_transformer.TextToSpeechCallbacks{
		OnSpeech: func(pcm []byte) { b.smoother.Push(pcm) },
		OnClosed: b.onSpeakerClosed,
	})
	if err != nil {
		return nil, err
	}
	if err := tts.Start(b.ctx); err != nil {
		return nil, err
	}

	b.stateMu.Lock()
	b.tts = tts
	b.stateMu.Unlock()
	return tts, nil
}

func (b *Bridge) speakSegment(segment string) {
	b.stateMu.Lock()
	closed := b.responseDoneSent
	b.stateMu.Unlock()
	if closed {
		// the response was already closed out (e.g. the speech stream died),
		// late segments must not reopen it
		return
	}

	tts, err := b.openSpeaker()
	if err != nil {
		// transcripts still flow when synthesis is down
		b.logger.Warnf("bridge: synthesis unavailable, dropping segment: %v", err)
		return
	}
	if err := tts.SendText(b.ctx, segment); err != nil {
		b.logger.Warnf("bridge: segment push failed: %v", err)
	}
}

// onSpeakerClosed handles the speech stream dying underneath us. The response
// is closed out so the client is never stuck waiting for audio.
func (b *Bridge) onSpeakerClosed(err error) {
	if err == nil {
		return
	}
	b.stateMu.Lock()
	open := b.tts != nil
	b.tts = nil
	b.stateMu.Unlock()
	if !open {
		return
	}

	b.logger.Warnf("bridge: speech stream lost mid-response: %v", err)
	b.emitResponseDone()
}

func (b *Bridge) clearSpeaker(tts internal_transformer.TextToSpeechTransformer) {
	b.stateMu.Lock()
	if b.tts == tts {
		b.tts = nil
	}
	b.stateMu.Unlock()
}

// =============================================================================
// Client socket writes
// =============================================================================

func (b *Bridge) sendFrame(frame internal_type.ClientFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		b.logger.Errorf("bridge: frame marshal failed: %v", err)
		return
	}
	b.write(websocket.TextMessage, payload)
}

func (b *Bridge) sendError(err *internal_type.GatewayError) {
	b.logger.Warnf("bridge: %v", err)
	b.sendFrame(internal_type.ErrorFrame(err))
}

func (b *Bridge) sendBinary(wav []byte) error {
	return b.write(websocket.BinaryMessage, wav)
}

// write is the single funnel onto the client socket. A failed write marks the
// session disconnected and later writes are dropped silently.
func (b *Bridge) write(messageType int, payload []byte) error {
	if b.disconnected.Load() {
		return nil
	}
	b.clientMu.Lock()
	defer b.clientMu.Unlock()
	if b.client == nil {
		return nil
	}
	if err := b.client.WriteMessage(messageType, payload); err != nil {
		b.disconnected.Store(true)
		b.logger.Infof("bridge: client write failed, marking disconnected: %v", err)
	}
	return nil
}

// =============================================================================
// Shutdown
// =============================================================================

func (b *Bridge) teardown() {
	b.disconnected.Store(true)
	b.cancel()

	b.stateMu.Lock()
	tts := b.tts
	b.tts = nil
	model := b.model
	b.stateMu.Unlock()

	if tts != nil {
		tts.Abort()
	}
	if model != nil {
		model.Close(context.Background())
	}
	b.smoother.Reset()

	if session := b.Session(); session != nil {
		b.logger.Infof("bridge: session %s closed after %s", session.Id, time.Since(session.CreatedAt))
	}
}

// asGatewayError keeps protocol codes intact and wraps everything else as an
// upstream rejection.
func asGatewayError(err error) *internal_type.GatewayError {
	if gwErr, ok := err.(*internal_type.GatewayError); ok {
		return gwErr
	}
	return internal_type.NewGatewayError(internal_type.ErrCodeUpstreamRejected, err.Error(), err)
}
