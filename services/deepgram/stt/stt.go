package stt

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"callpilot/core"
	sttHandler "callpilot/handlers/stt"
)

// DeepgramSTTService streams audio to Deepgram's listen endpoint and relays
// interim and final transcripts.
type DeepgramSTTService struct {
	config *DeepgramConfig
	logger *core.Logger

	conn        *websocket.Conn
	connMu      sync.RWMutex
	isConnected bool

	finalChan             chan<- sttHandler.TranscriptResult
	interimChan           chan<- string
	fatalServiceErrorChan chan<- error

	done        <-chan struct{}
	reconnectMu sync.Mutex
}

type DeepgramConfig struct {
	APIKey         string            `json:"api_key"`
	BaseURL        string            `json:"base_url"`
	Model          string            `json:"model"`
	Language       string            `json:"language"`
	InterimResults bool              `json:"interim_results"`
	Punctuate      bool              `json:"punctuate"`
	SmartFormat    bool              `json:"smart_format"`
	SampleRate     int               `json:"sample_rate"`
	Keywords       []string          `json:"keywords"`
	Extra          map[string]string `json:"extra"`
}

func DefaultConfig() *DeepgramConfig {
	return &DeepgramConfig{
		BaseURL:        "wss://api.deepgram.com",
		Model:          "nova-2",
		InterimResults: true,
		Punctuate:      true,
		SmartFormat:    true,
		SampleRate:     16000,
	}
}

func NewDeepgramSTTService(config *DeepgramConfig, logger *core.Logger) *DeepgramSTTService {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.deepgram.com"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &DeepgramSTTService{
		config: config,
		logger: logger,
	}
}

func (d *DeepgramSTTService) Initialize(ctx context.Context) error {
	if d.config.APIKey == "" {
		return fmt.Errorf("Deepgram API key is required")
	}
	d.done = ctx.Done()
	return nil
}

func (d *DeepgramSTTService) Cleanup() error {
	d.closeConnection()
	d.finalChan = nil
	d.interimChan = nil
	d.fatalServiceErrorChan = nil
	d.logger.Info("Deepgram STT service cleaned up")
	return nil
}

// Reset flushes the in-flight audio so Deepgram emits whatever it has.
func (d *DeepgramSTTService) Reset() error {
	return d.Finalize()
}

// Finalize asks Deepgram to close out the current utterance. The resulting
// transcript arrives on the final channel with from_finalize set.
func (d *DeepgramSTTService) Finalize() error {
	msg, err := sonic.Marshal(listenV1Finalize{Type: "Finalize"})
	if err != nil {
		return fmt.Errorf("failed to marshal finalize message: %w", err)
	}
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.isConnected && d.conn != nil {
		_ = d.conn.WriteMessage(websocket.TextMessage, msg)
	}
	return nil
}

func (d *DeepgramSTTService) StartTranscriptionSession(
	finalChan chan<- sttHandler.TranscriptResult,
	interimChan chan<- string,
	fatalServiceErrorChan chan<- error,
) {
	d.finalChan = finalChan
	d.interimChan = interimChan
	d.fatalServiceErrorChan = fatalServiceErrorChan

	go d.runSession()
}

// SendTranscriptionAudio sends one frame of linear16 audio. The handler has
// already converted it to the session's sample rate.
func (d *DeepgramSTTService) SendTranscriptionAudio(data []byte) error {
	if !d.isConnected || d.conn == nil {
		return fmt.Errorf("not connected to Deepgram")
	}
	d.connMu.Lock()
	err := d.conn.WriteMessage(websocket.BinaryMessage, data)
	d.connMu.Unlock()
	if err != nil {
		go d.handleConnectionError(err)
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (d *DeepgramSTTService) runSession() {
	for {
		select {
		case <-d.done:
			return
		default:
			if err := d.connectAndListen(); err != nil {
				select {
				case <-d.done:
					return
				default:
					if d.fatalServiceErrorChan != nil {
						select {
						case d.fatalServiceErrorChan <- fmt.Errorf("%w: Deepgram session: %v", core.ErrProviderUnavailable, err):
						default:
						}
					}
				}
				select {
				case <-time.After(5 * time.Second):
				case <-d.done:
					return
				}
			}
		}
	}
}

func (d *DeepgramSTTService) connectAndListen() error {
	d.reconnectMu.Lock()
	defer d.reconnectMu.Unlock()

	wsURL, err := d.buildWebSocketURL()
	if err != nil {
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}

	headers := map[string][]string{
		"Authorization": {"Token " + d.config.APIKey},
	}
	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	d.connMu.Lock()
	d.conn = conn
	d.isConnected = true
	d.connMu.Unlock()

	defer d.closeConnection()

	go d.keepAlive()

	for {
		select {
		case <-d.done:
			return nil
		default:
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("error reading message: %w", err)
			}
			if messageType == websocket.TextMessage {
				d.handleMessage(message)
			}
		}
	}
}

func (d *DeepgramSTTService) buildWebSocketURL() (string, error) {
	base, err := url.Parse(d.config.BaseURL + "/v1/listen")
	if err != nil {
		return "", err
	}

	q := base.Query()
	if d.config.Model != "" {
		q.Set("model", d.config.Model)
	}
	if d.config.Language != "" {
		q.Set("language", d.config.Language)
	}
	q.Set("interim_results", boolToString(d.config.InterimResults))
	q.Set("punctuate", boolToString(d.config.Punctuate))
	q.Set("smart_format", boolToString(d.config.SmartFormat))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", d.config.SampleRate))
	q.Set("channels", "1")

	for _, keyword := range d.config.Keywords {
		q.Add("keywords", keyword)
	}
	for key, value := range d.config.Extra {
		q.Set(key, value)
	}

	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (d *DeepgramSTTService) handleMessage(message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(message, &base); err != nil {
		d.logger.Debugf("unparseable Deepgram message: %v", err)
		return
	}

	switch base.Type {
	case "Results":
		var result listenV1Results
		if err := sonic.Unmarshal(message, &result); err != nil {
			d.logger.Debugf("failed to parse results: %v", err)
			return
		}
		d.processResults(result)
	case "Metadata", "UtteranceEnd", "SpeechStarted":
		// Informational; the turn detector owns endpointing.
	}
}

func (d *DeepgramSTTService) processResults(result listenV1Results) {
	if len(result.Channel.Alternatives) == 0 {
		return
	}
	alternative := result.Channel.Alternatives[0]
	if alternative.Transcript == "" {
		return
	}

	select {
	case <-d.done:
		return
	default:
	}

	if result.IsFinal || result.SpeechFinal || result.FromFinalize {
		d.logger.Debugf("STT final result: %s", alternative.Transcript)
		if d.finalChan != nil {
			select {
			case d.finalChan <- sttHandler.TranscriptResult{
				Text:       alternative.Transcript,
				Confidence: alternative.Confidence,
			}:
			default:
			}
		}
	} else {
		d.logger.Debugf("STT interim result: %s", alternative.Transcript)
		if d.interimChan != nil {
			select {
			case d.interimChan <- alternative.Transcript:
			default:
			}
		}
	}
}

func (d *DeepgramSTTService) keepAlive() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.connMu.Lock()
			if d.isConnected && d.conn != nil {
				if msg, err := sonic.Marshal(listenV1KeepAlive{Type: "KeepAlive"}); err == nil {
					_ = d.conn.WriteMessage(websocket.TextMessage, msg)
				}
			}
			d.connMu.Unlock()
		}
	}
}

func (d *DeepgramSTTService) closeConnection() {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if d.conn != nil {
		if msg, err := sonic.Marshal(listenV1CloseStream{Type: "CloseStream"}); err == nil {
			_ = d.conn.WriteMessage(websocket.TextMessage, msg)
		}
		_ = d.conn.Close()
		d.conn = nil
	}
	d.isConnected = false
}

func (d *DeepgramSTTService) handleConnectionError(_ error) {
	d.connMu.Lock()
	d.isConnected = false
	d.connMu.Unlock()
}

func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type listenV1Results struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	FromFinalize bool `json:"from_finalize,omitempty"`
}

type listenV1KeepAlive struct {
	Type string `json:"type"`
}

type listenV1CloseStream struct {
	Type string `json:"type"`
}

type listenV1Finalize struct {
	Type string `json:"type"`
}
