package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ochat/internal/app"
	"ochat/internal/crypto"
	"ochat/internal/domain"
	"ochat/internal/services/delivery"
	"ochat/internal/services/handshake"
	"ochat/internal/services/message"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	// maxBody bounds request bodies; file uploads are base64 in JSON.
	maxBody = 96 << 20
)

var upgrader = websocket.Upgrader{
	// The API listens on loopback; browsers on other origins must not drive it.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host
	},
}

// Server exposes an App over HTTP.
type Server struct {
	app    *app.App
	log    *zap.Logger
	router *mux.Router
	http   *http.Server
}

// NewServer builds the router for a.
func NewServer(a *app.App, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{app: a, log: log.Named("api"), router: mux.NewRouter()}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents)
	api.HandleFunc("/files/{transfer}", s.handleFile).Methods(http.MethodGet)

	api.HandleFunc("/contacts", s.handleContacts).Methods(http.MethodGet)
	api.HandleFunc("/contacts", s.handleRequest).Methods(http.MethodPost)
	api.HandleFunc("/contacts/{peer}", s.handleRemoveContact).Methods(http.MethodDelete)
	c := api.PathPrefix("/contacts/{peer}").Subrouter()
	c.HandleFunc("/confirm", s.peerAction(s.app.ConfirmRequest)).Methods(http.MethodPost)
	c.HandleFunc("/cancel", s.peerAction(s.app.CancelRequest)).Methods(http.MethodPost)
	c.HandleFunc("/block", s.peerAction(s.app.BlockContact)).Methods(http.MethodPost)
	c.HandleFunc("/rules", s.handleRules).Methods(http.MethodPut)
	c.HandleFunc("/messages", s.handleHistory).Methods(http.MethodGet)
	c.HandleFunc("/messages", s.handleSend).Methods(http.MethodPost)
	c.HandleFunc("/files", s.handleSendFile).Methods(http.MethodPost)
	c.HandleFunc("/typing", s.handleTyping).Methods(http.MethodPost)
	c.HandleFunc("/messages/{id}/retry", s.handleRetry).Methods(http.MethodPost)
	c.HandleFunc("/messages/{id}", s.handleRemoveMessage).Methods(http.MethodDelete)

	s.router.Use(s.logMiddleware)
	return s
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts API connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.log.Info("api listening", zap.String("addr", ln.Addr().String()))
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http != nil {
		return s.http.Shutdown(ctx)
	}
	return nil
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{Identity: s.app.Identity(), Running: s.app.Transport.Running()}
	if onion, err := s.app.OnionAddress(); err == nil {
		st.Onion = onion
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Start(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Stop(); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Sessions())
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.app.Contacts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !readJSON(w, r, &req) {
		return
	}
	pub, err := crypto.ParsePublicKey(req.PublicKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	c, err := s.app.RequestChat(r.Context(), pub, domain.OnionAddress(req.Onion), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) peerAction(fn func(context.Context, domain.PeerID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, ok := peerParam(w, r)
		if !ok {
			return
		}
		if err := fn(r.Context(), peer); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	s.peerAction(s.app.RemoveContact)(w, r)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	var rules domain.ChatRules
	if !readJSON(w, r, &rules) {
		return
	}
	c, err := s.app.SetRules(r.Context(), peer, rules)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	hist, err := s.app.History(r.Context(), peer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if !readJSON(w, r, &req) {
		return
	}
	var (
		id  domain.MessageID
		err error
	)
	switch {
	case req.Reaction != "":
		id, err = s.app.SendReaction(r.Context(), peer, req.ReplyTo, req.Reaction)
	case req.ReplyTo != "":
		id, err = s.app.SendReply(r.Context(), peer, req.ReplyTo, req.Text)
	default:
		id, err = s.app.SendMessage(r.Context(), peer, req.Text)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Sent{ID: id})
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	var req FileRequest
	if !readJSON(w, r, &req) {
		return
	}
	id, err := s.app.SendFile(r.Context(), peer, req.Name, req.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Sent{ID: id})
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	var req TypingRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.app.SetTyping(r.Context(), peer, req.Typing); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	id := domain.MessageID(mux.Vars(r)["id"])
	if err := s.app.RetrySendMessage(r.Context(), peer, id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Sent{ID: id})
}

func (s *Server) handleRemoveMessage(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	if err := s.app.RemoveMessage(r.Context(), peer, domain.MessageID(mux.Vars(r)["id"])); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.app.File(r.Context(), domain.TransferID(mux.Vars(r)["transfer"]))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// handleEvents streams every notification to a WebSocket until either side
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	events, stopEvents := s.app.Events()
	defer stopEvents()
	servers, stopServers := s.app.ServerStates()
	defer stopServers()
	sessions, stopSessions := s.app.SessionStates()
	defer stopSessions()

	// Reads only detect the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		var n Notification
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		case ev, ok := <-events:
			if !ok {
				return
			}
			n = Notification{Stream: "event", Event: &ev, At: ev.At}
		case st, ok := <-servers:
			if !ok {
				return
			}
			n = Notification{Stream: "server", Server: &st, At: st.At}
		case se, ok := <-sessions:
			if !ok {
				return
			}
			n = Notification{Stream: "session", Session: &se, At: se.At}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(n); err != nil {
			s.log.Debug("websocket write", zap.Error(err))
			return
		}
	}
}

func peerParam(w http.ResponseWriter, r *http.Request) (domain.PeerID, bool) {
	pub, err := crypto.ParsePublicKey(mux.Vars(r)["peer"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return "", false
	}
	return pub.PeerID(), true
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.log.Warn("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownContact), errors.Is(err, delivery.ErrUnknownMessage):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotEstablished), errors.Is(err, domain.ErrNoPendingRequest),
		errors.Is(err, domain.ErrContactBlocked), errors.Is(err, delivery.ErrNotFailed),
		errors.Is(err, delivery.ErrNotRetryable), errors.Is(err, handshake.ErrAlreadyContact):
		return http.StatusConflict
	case errors.Is(err, message.ErrEmptyMessage), errors.Is(err, message.ErrFileTooLarge),
		errors.Is(err, handshake.ErrInvalidOnion), errors.Is(err, handshake.ErrSelf):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotRunning), errors.Is(err, domain.ErrBootstrapTimeout),
		errors.Is(err, domain.ErrBindFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
