package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"callpilot/core"
)

type ElevenLabsTTSConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id"`

	// Voice settings from the assistant configuration.
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

// ElevenLabsTTS streams text into the ElevenLabs websocket API and emits PCM
// audio chunks. One websocket stream corresponds to one spoken segment; the
// service reconnects transparently between segments and after resets.
type ElevenLabsTTS struct {
	config ElevenLabsTTSConfig
	logger *core.Logger

	mu             sync.RWMutex
	reconnectMu    sync.RWMutex // write-locked during reconnection
	conn           *websocket.Conn
	currentSession *ttsSession
	ctx            context.Context
	cancel         context.CancelFunc

	isInitialized bool
}

type ttsSession struct {
	outChan         chan<- core.AudioChunk
	errorChan       chan<- error
	segmentDoneChan chan<- struct{}
}

// Client messages.
type (
	elBOSMessage struct {
		Text             string          `json:"text"`
		VoiceSettings    elVoiceSettings `json:"voice_settings"`
		GenerationConfig elGenConfig     `json:"generation_config"`
	}

	elVoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
		Speed           float64 `json:"speed,omitempty"`
	}

	elGenConfig struct {
		ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	}

	elTextMessage struct {
		Text string `json:"text"`
	}
)

// Server messages.
type (
	elAudioMessage struct {
		Audio   string `json:"audio"`
		IsFinal bool   `json:"isFinal"`
	}

	elErrorMessage struct {
		Error   string `json:"error"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
)

func NewElevenLabsTTS(config ElevenLabsTTSConfig, logger *core.Logger) *ElevenLabsTTS {
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"
	}
	if config.VoiceID == "" {
		config.VoiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_turbo_v2_5"
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &ElevenLabsTTS{
		config: config,
		logger: logger,
	}
}

func (e *ElevenLabsTTS) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isInitialized {
		return nil
	}
	if e.config.APIKey == "" {
		return errors.New("ElevenLabs API key is required")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.isInitialized = true
	return nil
}

func (e *ElevenLabsTTS) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isInitialized {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.closeConnectionLocked()
	e.currentSession = nil
	e.isInitialized = false
	e.logger.Info("ElevenLabs TTS service cleaned up")
	return nil
}

func (e *ElevenLabsTTS) StartTTSSession(
	outChan chan<- core.AudioChunk,
	errorChan chan<- error,
	segmentDoneChan chan<- struct{},
) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isInitialized {
		return errors.New("service not initialized")
	}
	if outChan == nil || errorChan == nil || segmentDoneChan == nil {
		return errors.New("session channels cannot be nil")
	}

	if e.currentSession != nil {
		e.cleanupSessionLocked(e.currentSession)
	}

	conn, err := e.establishConnection()
	if err != nil {
		return fmt.Errorf("failed to establish WebSocket connection: %w", err)
	}
	e.conn = conn

	session := &ttsSession{
		outChan:         outChan,
		errorChan:       errorChan,
		segmentDoneChan: segmentDoneChan,
	}
	e.currentSession = session

	if err := e.sendBOSLocked(conn); err != nil {
		e.closeConnectionLocked()
		e.currentSession = nil
		return fmt.Errorf("failed to send BOS: %w", err)
	}

	go e.handleIncomingMessages(session)
	return nil
}

func (e *ElevenLabsTTS) establishConnection() (*websocket.Conn, error) {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			e.logger.Infof("ElevenLabs TTS: retrying connection (attempt %d/%d) in %v after error: %v",
				attempt+1, maxRetries, delay, lastErr)
			select {
			case <-e.ctx.Done():
				return nil, e.ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, err := e.dialConnection()
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, fmt.Errorf("%w: failed to connect after %d attempts: %v", core.ErrProviderUnavailable, maxRetries, lastErr)
}

func (e *ElevenLabsTTS) dialConnection() (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/%s/stream-input?model_id=%s&output_format=pcm_24000",
		e.config.BaseURL,
		e.config.VoiceID,
		e.config.ModelID,
	)

	headers := map[string][]string{
		"xi-api-key": {e.config.APIKey},
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(url, headers)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return conn, nil
}

func (e *ElevenLabsTTS) sendBOSLocked(conn *websocket.Conn) error {
	bos := elBOSMessage{
		Text: " ",
		VoiceSettings: elVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
			Speed:           e.config.Speed,
		},
		GenerationConfig: elGenConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
	return e.sendJSON(conn, bos)
}

func (e *ElevenLabsTTS) handleIncomingMessages(session *ttsSession) {
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		e.mu.RLock()
		conn := e.conn
		current := e.currentSession
		e.mu.RUnlock()

		if current != session {
			return
		}
		if conn == nil {
			if err := e.reconnect(); err != nil {
				e.sendError(session, fmt.Errorf("%w: reconnect failed: %v", core.ErrProviderUnavailable, err))
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-e.ctx.Done():
				return
			default:
			}
			// EOS closes the stream server-side; reconnect for the next
			// segment.
			if err := e.reconnect(); err != nil {
				e.sendError(session, fmt.Errorf("%w: reconnect failed after read error: %v", core.ErrProviderUnavailable, err))
				return
			}
			continue
		}

		if messageType == websocket.TextMessage {
			e.handleTextMessage(message, session)
		}
	}
}

func (e *ElevenLabsTTS) handleTextMessage(message []byte, session *ttsSession) {
	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(message, &raw); err != nil {
		e.logger.Infof("ElevenLabs TTS: failed to parse message: %v", err)
		return
	}

	if errField, ok := raw["error"]; ok && string(errField) != "null" {
		var errMsg elErrorMessage
		if err := sonic.Unmarshal(message, &errMsg); err == nil {
			e.sendError(session, fmt.Errorf("ElevenLabs error: %s (code: %d)", errMsg.Message, errMsg.Code))
		} else {
			e.sendError(session, fmt.Errorf("ElevenLabs error: %s", string(errField)))
		}
		return
	}

	var audioMsg elAudioMessage
	if err := sonic.Unmarshal(message, &audioMsg); err != nil {
		e.logger.Infof("ElevenLabs TTS: failed to parse audio message: %v", err)
		return
	}

	if audioMsg.Audio != "" {
		audioData, err := base64.StdEncoding.DecodeString(audioMsg.Audio)
		if err != nil {
			e.logger.Infof("ElevenLabs TTS: failed to decode audio: %v", err)
			return
		}
		chunk := core.AudioChunk{
			Data:       audioData,
			SampleRate: 24000,
			Format:     core.PCM,
			Channels:   1,
		}
		select {
		case session.outChan <- chunk:
		case <-e.ctx.Done():
			return
		}
	}

	if audioMsg.IsFinal {
		select {
		case session.segmentDoneChan <- struct{}{}:
		default:
		}
	}
}

func (e *ElevenLabsTTS) reconnect() error {
	e.reconnectMu.Lock()
	defer e.reconnectMu.Unlock()

	e.mu.Lock()
	e.closeConnectionLocked()
	e.mu.Unlock()

	conn, err := e.establishConnection()
	if err != nil {
		return err
	}
	if err := e.sendBOSLocked(conn); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send BOS after reconnect: %w", err)
	}

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	return nil
}

func (e *ElevenLabsTTS) sendError(session *ttsSession, err error) {
	if session == nil || session.errorChan == nil {
		return
	}
	select {
	case session.errorChan <- err:
	default:
		e.logger.Infof("ElevenLabs TTS: error channel full: %v", err)
	}
}

// BufferText streams one text fragment into the current segment.
func (e *ElevenLabsTTS) BufferText(text string) error {
	e.reconnectMu.RLock()
	defer e.reconnectMu.RUnlock()

	conn, err := e.activeConn()
	if err != nil {
		return err
	}
	if text == "" {
		return errors.New("text cannot be empty")
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return e.sendJSON(conn, elTextMessage{Text: text})
}

// Flush signals end of stream, causing ElevenLabs to synthesize whatever
// remains buffered and report isFinal.
func (e *ElevenLabsTTS) Flush() error {
	e.reconnectMu.RLock()
	defer e.reconnectMu.RUnlock()

	conn, err := e.activeConn()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return e.sendJSON(conn, elTextMessage{Text: ""})
}

// Reset abandons the in-flight generation by dropping the connection and
// starting a fresh stream.
func (e *ElevenLabsTTS) Reset() error {
	e.reconnectMu.RLock()
	active := e.isActive()
	e.reconnectMu.RUnlock()
	if !active {
		return nil
	}
	return e.reconnect()
}

func (e *ElevenLabsTTS) activeConn() (*websocket.Conn, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.isInitialized {
		return nil, errors.New("service not initialized")
	}
	if e.conn == nil || e.currentSession == nil {
		return nil, errors.New("no active TTS session")
	}
	return e.conn, nil
}

func (e *ElevenLabsTTS) isActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isInitialized && e.conn != nil && e.currentSession != nil
}

func (e *ElevenLabsTTS) sendJSON(conn *websocket.Conn, msg any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (e *ElevenLabsTTS) closeConnectionLocked() {
	if e.conn != nil {
		e.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		e.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		e.conn.Close()
		e.conn = nil
	}
}

func (e *ElevenLabsTTS) cleanupSessionLocked(session *ttsSession) {
	if session == nil {
		return
	}
	e.closeConnectionLocked()
	if e.currentSession == session {
		e.currentSession = nil
	}
}
