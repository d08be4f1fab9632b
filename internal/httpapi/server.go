package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/lokutor-ai/turntaker/pkg/session"
	"github.com/lokutor-ai/turntaker/pkg/transport"
	"github.com/lokutor-ai/turntaker/pkg/types"
)

type Server struct {
	router  *mux.Router
	httpSrv *http.Server
	mgr     *Manager
	logger  types.Logger
}

func NewServer(addr string, mgr *Manager, logger types.Logger) *Server {
	if logger == nil {
		logger = &types.NoOpLogger{}
	}
	s := &Server{
		router: mux.NewRouter(),
		mgr:    mgr,
		logger: logger,
	}
	s.setupRoutes()
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.loggingMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/session/create", s.handleCreateSession).Methods("POST")
	s.router.HandleFunc("/session/{id}", s.handleGetSession).Methods("GET")
	s.router.HandleFunc("/session/{id}/close", s.handleCloseSession).Methods("POST")
	s.router.HandleFunc("/ws/voice/{id}", s.handleVoiceWS)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

// Start runs the HTTP server until ctx is cancelled, then performs a
// graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("httpapi: server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Create(r.Context(), time.Now())
	if err != nil {
		s.logger.Error("failed to create session", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.ID,
		"state":      string(sess.Lifecycle()),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if sess, ok := s.mgr.Get(id); ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session_id":         sess.ID,
			"state":              string(sess.Lifecycle()),
			"conversation_state": string(sess.Conversation.State()),
		})
		return
	}

	rec, ok, err := s.mgr.LoadPersisted(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load persisted session", "id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": rec.ID,
		"state":      rec.State,
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.mgr.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err := s.mgr.Close(r.Context(), id, time.Now()); err != nil {
		s.logger.Error("failed to close session", "id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to close session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// handleVoiceWS upgrades the connection and runs the per-session duplex
// loop: binary frames are PCM chunks fed to the engine, everything the
// session emits comes back as a typed JSON control message.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.mgr.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "id", id, "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	audio, err := sess.Open(ctx, "Hi, how can I help you today?")
	if err != nil {
		s.logger.Error("session open failed", "id", id, "err", err)
		conn.Close(websocket.StatusInternalError, "open failed")
		return
	}
	if err := writeBinary(ctx, conn, audio); err != nil {
		return
	}

	// outbox decouples sending from both the read loop and the turn-taking
	// actor's async adapter round trip: a TURN_END's STT/LLM/TTS work runs on
	// its own goroutine (Session.processTurnEnd) and delivers its result
	// through SetEmit rather than blocking the reader, so both that callback
	// and the read loop's own synchronous results funnel through one channel
	// into a single writer goroutine (conn.Write must not be called
	// concurrently with itself).
	outbox := make(chan []transport.ServerMessage, 16)
	sess.SetEmit(func(msgs []transport.ServerMessage) {
		select {
		case outbox <- msgs:
		case <-ctx.Done():
		}
	})
	defer sess.SetEmit(nil)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msgs := <-outbox:
				if err := writeMessages(ctx, conn, msgs); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-writerDone
	}()

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			s.logger.Debug("websocket read ended", "id", id, "err", err)
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			msgs, err := sess.HandleChunk(ctx, time.Now(), payload)
			if err != nil {
				s.logger.Warn("turn handling error", "id", id, "err", err)
			}
			if len(msgs) > 0 {
				select {
				case outbox <- msgs:
				case <-ctx.Done():
					return
				}
			}
			if sess.Lifecycle() == session.Closed {
				return
			}
		case websocket.MessageText:
			// Control frames from the client (e.g. client-side interrupt
			// requests) are accepted but carry no payload this module acts
			// on yet beyond keeping the connection alive.
			continue
		}
	}
}

func writeMessages(ctx context.Context, conn *websocket.Conn, msgs []transport.ServerMessage) error {
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return err
		}
	}
	return nil
}

func writeBinary(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	return conn.Write(ctx, websocket.MessageBinary, payload)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
