package protocol

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"callpilot/core"
	llmevents "callpilot/events/llm"
	playbackevents "callpilot/events/playback"
	sessionevents "callpilot/events/session"
	turnevents "callpilot/events/turn"
	whisperevents "callpilot/events/whisper"
)

// SessionControl is the slice of a live session the bridge needs: the event
// stream out, whisper injection and hangup in.
type SessionControl interface {
	Subscribe(name string, buffer int) *core.Subscription
	InjectWhisper(text string, delivery core.WhisperDelivery) core.WhisperSuggestion
	End(reason string)
}

// Bridge relays one session's event stream to an operator websocket and
// applies operator commands to the session. The subscription is best-effort:
// a slow operator UI loses events, never slows the call.
type Bridge struct {
	sessionID string
	control   SessionControl
	conn      *websocket.Conn
	logger    *core.Logger

	sendMu sync.Mutex
}

func NewBridge(sessionID string, control SessionControl, conn *websocket.Conn, logger *core.Logger) *Bridge {
	return &Bridge{
		sessionID: sessionID,
		control:   control,
		conn:      conn,
		logger:    logger.With(map[string]any{"bridge": sessionID}),
	}
}

// Run pumps events out and commands in until the session ends, the operator
// disconnects or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.control.Subscribe("operator-bridge", 128)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.readLoop()
	}()

	for {
		select {
		case packet, ok := <-sub.C:
			if !ok {
				b.conn.Close()
				<-done
				return
			}
			b.forward(packet)
		case <-done:
			return
		case <-ctx.Done():
			b.conn.Close()
			<-done
			return
		}
	}
}

// forward translates a pipeline packet into a bridge message. Packets with no
// operator-facing representation are skipped.
func (b *Bridge) forward(packet *core.EventPacket) {
	switch event := packet.Event.(type) {
	case *sessionevents.StateChangedEvent:
		b.send(MsgState, StatePayload{From: event.From, To: event.To, Reason: event.Reason})
	case *turnevents.TurnUtteranceFinalizedEvent:
		b.send(MsgTranscript, TranscriptPayload{Utterance: event.Utterance})
	case *llmevents.LLMResponseCompletedEvent:
		b.send(MsgResponse, ResponsePayload{Response: event.Response})
	case *llmevents.LLMToolInvocationRequestedEvent:
		b.send(MsgToolCall, ToolCallPayload{ResponseID: event.ResponseID, Call: event.Call})
	case *playbackevents.PlaybackStartedEvent:
		b.send(MsgPlayback, PlaybackPayload{ResponseID: event.ResponseID, Status: "started"})
	case *playbackevents.PlaybackFinishedEvent:
		b.send(MsgPlayback, PlaybackPayload{ResponseID: event.ResponseID, Status: "finished", Played: event.Played})
	case *playbackevents.PlaybackCancelledEvent:
		b.send(MsgPlayback, PlaybackPayload{
			ResponseID: event.ResponseID,
			Status:     "cancelled",
			Played:     event.Played,
			Unplayed:   event.Unplayed,
		})
	case *whisperevents.WhisperFiredEvent:
		b.send(MsgWhisper, WhisperPayload{Suggestion: event.Suggestion})
	case *sessionevents.RecordFinalizedEvent:
		b.send(MsgRecord, RecordPayload{Outcome: event.Outcome})
	case *core.CriticalErrorEvent:
		b.send(MsgError, ErrorPayload{Reason: event.Reason})
	}
}

func (b *Bridge) send(msgType MessageType, payload interface{}) {
	data, err := Marshal(msgType, b.sessionID, payload)
	if err != nil {
		b.logger.Warn("bridge marshal failed", "type", string(msgType), "error", err.Error())
		return
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.logger.Debug("bridge write failed", "error", err.Error())
	}
}

func (b *Bridge) readLoop() {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		msgType, raw, err := Unmarshal(data)
		if err != nil {
			b.ack(msgType, false, err.Error())
			continue
		}
		switch msgType {
		case MsgInjectWhisper:
			payload, err := UnmarshalPayload[InjectWhisperPayload](raw)
			if err != nil {
				b.ack(msgType, false, err.Error())
				continue
			}
			b.control.InjectWhisper(payload.Text, payload.Delivery)
			b.ack(msgType, true, "")
		case MsgEndCall:
			payload, err := UnmarshalPayload[EndCallPayload](raw)
			if err != nil {
				b.ack(msgType, false, err.Error())
				continue
			}
			b.control.End(payload.Reason)
			b.ack(msgType, true, "")
		default:
			b.ack(msgType, false, "unsupported message type")
		}
	}
}

func (b *Bridge) ack(msgType MessageType, ok bool, errMsg string) {
	b.send(MsgAck, AckPayload{AckedType: msgType, OK: ok, Error: errMsg})
}
