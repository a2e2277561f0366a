// Package websocket is the plain websocket transport: binary frames carry
// caller audio, text frames carry JSON signaling. Telephony bridges and the
// browser softphone both speak this framing.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"callpilot/core"
	transportHandler "callpilot/handlers/transport"
)

// WebSocketService implements the transport service over an already-accepted
// websocket connection.
type WebSocketService struct {
	conn    *websocket.Conn
	mu      sync.Mutex // protects writes
	started bool
	done    <-chan struct{}
}

func NewWebSocketService(conn *websocket.Conn) *WebSocketService {
	return &WebSocketService{conn: conn}
}

func (ws *WebSocketService) Initialize(ctx context.Context) error {
	ws.done = ctx.Done()
	return nil
}

func (ws *WebSocketService) Cleanup() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.started = false
	if ws.conn != nil {
		return ws.conn.Close()
	}
	return nil
}

func (ws *WebSocketService) Reset() error { return nil }

// Connect is a handshake check; the connection itself was accepted upstream.
func (ws *WebSocketService) Connect() error {
	if ws.conn == nil {
		return websocket.ErrCloseSent
	}
	ws.started = true
	return nil
}

func (ws *WebSocketService) SendRawOutput(data core.RawData) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.conn == nil {
		return websocket.ErrCloseSent
	}
	if data.Text != "" {
		return ws.conn.WriteMessage(websocket.TextMessage, []byte(data.Text))
	}
	if len(data.Binary) > 0 {
		return ws.conn.WriteMessage(websocket.BinaryMessage, data.Binary)
	}
	return nil
}

func (ws *WebSocketService) StartReceiving(outputChan chan<- core.RawData, errorChan chan<- error) {
	if ws.conn == nil {
		errorChan <- websocket.ErrCloseSent
		return
	}
	for {
		select {
		case <-ws.done:
			return
		default:
		}

		messageType, msg, err := ws.conn.ReadMessage()
		if err != nil {
			select {
			case <-ws.done:
			default:
				errorChan <- err
			}
			return
		}

		var data core.RawData
		switch messageType {
		case websocket.TextMessage:
			data.Text = string(msg)
		case websocket.BinaryMessage:
			data.Binary = msg
		default:
			continue
		}
		select {
		case outputChan <- data:
		case <-ws.done:
			return
		}
	}
}

// Hangup sends the hangup signal and closes the connection.
func (ws *WebSocketService) Hangup(reason string) error {
	payload, err := sonic.Marshal(transportHandler.Signal{
		Kind:   transportHandler.SignalHangup,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return nil
	}
	_ = ws.conn.WriteMessage(websocket.TextMessage, payload)
	ws.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = ws.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	return ws.conn.Close()
}

// Serializer maps the websocket framing to internal types. Binary frames are
// 8kHz mono mu-law, the framing telephony bridges emit; text frames are JSON
// Signal objects.
type Serializer struct{}

func NewSerializer() *Serializer { return &Serializer{} }

func (s *Serializer) Deserialize(data core.RawData) (core.AudioChunk, transportHandler.Signal, error) {
	if data.Text != "" {
		var signal transportHandler.Signal
		if err := sonic.Unmarshal([]byte(data.Text), &signal); err != nil {
			return core.AudioChunk{}, transportHandler.Signal{}, err
		}
		return core.AudioChunk{}, signal, nil
	}
	if len(data.Binary) == 0 {
		return core.AudioChunk{}, transportHandler.Signal{}, nil
	}
	return core.AudioChunk{
		Data:       data.Binary,
		SampleRate: 8000,
		Channels:   1,
		Format:     core.ULAW,
	}, transportHandler.Signal{}, nil
}

func (s *Serializer) SerializeAudioOutput(audioChunk core.AudioChunk) (core.RawData, error) {
	return core.RawData{Binary: audioChunk.Data}, nil
}

func (s *Serializer) SerializeSignalOutput(signal transportHandler.Signal) (core.RawData, error) {
	payload, err := sonic.Marshal(signal)
	if err != nil {
		return core.RawData{}, err
	}
	return core.RawData{Text: string(payload)}, nil
}
