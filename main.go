package main

import (
	"context"
	"encoding/base64"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"callpilot/core"
	"callpilot/factories"
	transporthandler "callpilot/handlers/transport"
	"callpilot/protocol"
	"callpilot/session"
	"callpilot/store"
	"callpilot/transports/room"
	wstransport "callpilot/transports/websocket"
)

func main() {
	var settingsPath string
	flag.StringVar(&settingsPath, "settings", "settings.json", "path to the settings JSON file")
	flag.Parse()

	logger := core.GetLogger()

	if err := godotenv.Load(".env.local"); err != nil {
		logger.Warn("no .env.local file found or failed to load", "error", err.Error())
	}

	settings := loadSettings(settingsPath, logger)
	keys := loadAPIKeys()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := newServer(ctx, settings, keys, logger)
	if err != nil {
		logger.Fatal("server setup failed", "error", err.Error())
		os.Exit(1)
	}
	defer srv.close()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/call", srv.handleCall)
	mux.HandleFunc("/ws/operator", srv.handleOperator)
	if srv.rooms != nil {
		mux.HandleFunc("/join-token", srv.handleJoinToken)
	}

	httpServer := &http.Server{Addr: settings.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", settings.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server exited", "error", err.Error())
		os.Exit(1)
	}
}

// loadSettings reads settings from SETTINGS_JSON_B64 when set, falling back
// to the settings file.
func loadSettings(path string, logger *core.Logger) factories.SettingsConfig {
	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err == nil {
			settings, parseErr := factories.SettingsConfigFromJSON(data)
			if parseErr == nil {
				logger.Info("loaded settings from SETTINGS_JSON_B64")
				return settings
			}
			logger.Error("failed to parse SETTINGS_JSON_B64", "error", parseErr.Error())
		} else {
			logger.Error("failed to decode SETTINGS_JSON_B64", "error", err.Error())
		}
	}

	settings, err := factories.SettingsConfigFromFile(path)
	if err != nil {
		logger.Warn("using default settings", "error", err.Error())
	}
	return settings
}

func loadAPIKeys() factories.APIKeys {
	return factories.APIKeys{
		Deepgram:   os.Getenv("DEEPGRAM_API_KEY"),
		OpenAI:     os.Getenv("OPENAI_API_KEY"),
		Gemini:     os.Getenv("GEMINI_API_KEY"),
		Groq:       os.Getenv("GROQ_API_KEY"),
		Together:   os.Getenv("TOGETHER_API_KEY"),
		DeepSeek:   os.Getenv("DEEPSEEK_API_KEY"),
		ElevenLabs: os.Getenv("ELEVENLABS_API_KEY"),
	}
}

type server struct {
	ctx      context.Context
	settings factories.SettingsConfig
	keys     factories.APIKeys
	logger   *core.Logger

	records store.CallRecordStore
	spool   *store.SpoolStore
	rooms   *room.APIClient

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newServer(ctx context.Context, settings factories.SettingsConfig, keys factories.APIKeys, logger *core.Logger) (*server, error) {
	spool, err := store.NewSpoolStore(settings.SpoolDir)
	if err != nil {
		return nil, err
	}

	var records store.CallRecordStore
	dsn := settings.Database.DSN
	if env := os.Getenv("DATABASE_URL"); env != "" {
		dsn = env
	}
	if dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		records = pg
		// Drain records spooled while the database was unreachable.
		if err := spool.Replay(ctx, pg); err != nil {
			logger.Warn("spool replay incomplete", "error", err.Error())
		}
	} else {
		logger.Warn("no database configured, call records go to the spool directory")
	}

	var rooms *room.APIClient
	if settings.Room != nil {
		apiKey := settings.Room.APIKey
		if env := os.Getenv("ROOM_API_KEY"); env != "" {
			apiKey = env
		}
		rooms = room.NewAPIClient(apiKey, settings.Room.BaseURL)
	}

	return &server{
		ctx:      ctx,
		settings: settings,
		keys:     keys,
		logger:   logger,
		records:  records,
		spool:    spool,
		rooms:    rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session.Session),
	}, nil
}

func (s *server) close() {
	if s.records != nil {
		s.records.Close()
	}
}

// handleCall runs one complete voice session over the accepted websocket. The
// HTTP handler returns when the session reaches a terminal state.
func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	assistant, err := s.settings.ResolveAssistant()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	assistant.InjectAPIKeys(s.keys)

	participant := r.URL.Query().Get("participant")
	if participant == "" {
		participant = "anonymous"
	}
	sessionID := uuid.New().String()
	logger := s.logger
	logWriter, err := core.NewSessionLogWriter(s.settings.LogDir, sessionID, participant)
	if err != nil {
		s.logger.Warn("session log unavailable", "error", err.Error())
	} else {
		logger = core.NewSessionLogger(s.logger, logWriter)
		defer logWriter.Close()
	}
	logger = logger.With(map[string]any{"session_id": sessionID})

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err.Error())
		return
	}

	transportService := wstransport.NewWebSocketService(conn)
	handlers, err := assistant.BuildPipeline(transportService, transporthandler.TransportConfig{
		Serializer:     wstransport.NewSerializer(),
		OutSampleRate:  8000,
		OutChannels:    1,
		OutAudioFormat: core.ULAW,
	}, logger)
	if err != nil {
		logger.Error("pipeline build failed", "error", err.Error())
		conn.Close()
		return
	}

	sess := session.New(session.Config{
		SessionID:        sessionID,
		Participant:      participant,
		FirstMessage:     assistant.FirstMessage,
		ConnectTimeout:   s.settings.ConnectTimeout,
		Goals:            assistant.Goals,
		WhisperTemplates: assistant.Whispers,
	}, handlers, s.recordStore(), s.spool, logger)

	if err := sess.Start(s.ctx); err != nil {
		logger.Error("session start failed", "error", err.Error())
		conn.Close()
		return
	}

	s.register(sessionID, sess)
	defer s.unregister(sessionID)

	<-sess.Done()
	if err := sess.Err(); err != nil {
		logger.Warn("session ended with error", "error", err.Error())
	}
	record := sess.Record()
	logger.Info("session finished",
		"state", sess.State().String(),
		"utterances", len(record.Transcript),
		"responses", len(record.Responses),
		"goal_completion", record.GoalCompletion(),
	)
}

// recordStore picks the persistence target: Postgres when configured, the
// spool otherwise.
func (s *server) recordStore() store.CallRecordStore {
	if s.records != nil {
		return s.records
	}
	return s.spool
}

// handleOperator attaches an operator UI to a running session.
func (s *server) handleOperator(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	sess := s.lookup(sessionID)
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("operator upgrade failed", "error", err.Error())
		return
	}
	protocol.NewBridge(sessionID, sess, conn, s.logger).Run(r.Context())
}

// handleJoinToken mints a short-lived room join token for a caller.
func (s *server) handleJoinToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roomName := r.URL.Query().Get("room")
	participant := r.URL.Query().Get("participant")
	if roomName == "" || participant == "" {
		http.Error(w, "room and participant are required", http.StatusBadRequest)
		return
	}

	token, err := s.rooms.CreateJoinToken(room.JoinTokenConfig{
		RoomName:    roomName,
		Participant: participant,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"token":"` + token + `"}`))
}

func (s *server) register(id string, sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
}

func (s *server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *server) lookup(id string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}
