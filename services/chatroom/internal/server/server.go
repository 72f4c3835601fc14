package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"roomchat/internal/util"
	"roomchat/pkg/domain"
	"roomchat/pkg/roomsync"
	"roomchat/pkg/setup"
	"roomchat/pkg/store"
	"roomchat/services/chatroom/internal/app"
)

const (
	serviceName  = "chatroom"
	maxBodyBytes = 1 << 20
	// remoteWriteMessage is shown whenever a cloud write fails.
	remoteWriteMessage = "room update failed, check your cloud connection"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	CORSOrigins    []string
	TrustedProxies *util.TrustedProxies
	Logger         *slog.Logger
}

// Server exposes the room API and the live room stream.
type Server struct {
	app     *app.App
	origins []string
	trusted *util.TrustedProxies
	log     *slog.Logger
	mux     *http.ServeMux
	streams *streamSet
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app:     cfg.App,
		origins: cfg.CORSOrigins,
		trusted: cfg.TrustedProxies,
		log:     logger,
		mux:     http.NewServeMux(),
		streams: newStreamSet(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.origins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(serviceName, s.trusted, h)
	return util.WithRequestID(s.log, h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	s.mux.Handle("GET /api/rooms", s.withSession(s.handleListRooms))
	s.mux.Handle("POST /api/rooms", s.withSession(s.handleCreateRoom))
	s.mux.Handle("POST /api/rooms/import", s.withSession(s.handleImportRoom))
	s.mux.Handle("GET /api/rooms/{id}", s.withSession(s.handleGetRoom))
	s.mux.Handle("DELETE /api/rooms/{id}", s.withSession(s.handleDeleteRoom))
	s.mux.HandleFunc("POST /api/rooms/{id}/join", s.handleJoin)
	s.mux.HandleFunc("POST /api/rooms/{id}/leave", s.handleLeave)
	s.mux.Handle("GET /api/rooms/{id}/messages", s.withSession(s.handleListMessages))
	s.mux.Handle("POST /api/rooms/{id}/messages", s.withSession(s.handleSendMessage))
	s.mux.Handle("POST /api/rooms/{id}/memos", s.withSession(s.handleAddMemo))
	s.mux.Handle("DELETE /api/rooms/{id}/memos/{memoId}", s.withSession(s.handleDeleteMemo))
	s.mux.Handle("GET /api/rooms/{id}/export", s.withSession(s.handleExportRoom))

	s.mux.HandleFunc("POST /api/admin/login", s.handleAdminLogin)
	s.mux.Handle("POST /api/cloud/setup", s.withSession(s.handleCloudSetup))
	s.mux.Handle("POST /api/cloud/disconnect", s.withSession(s.handleCloudDisconnect))

	s.mux.Handle("GET /ws", s.withSession(s.handleStream))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"mode": s.app.Mode()})
}

type sessionHandler func(http.ResponseWriter, *http.Request, domain.Session)

// withSession resolves the caller's session. No token means an anonymous
// session; a token that fails verification is rejected.
func (s *Server) withSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(r)
		if !ok {
			next(w, r, domain.Session{})
			return
		}
		sess, err := s.app.Authenticate(token)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, sess)
	})
}

type (
	createRoomRequest struct {
		Title    string `json:"title"`
		Password string `json:"password"`
	}
	joinRequest struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	messageRequest struct {
		Text string `json:"text"`
	}
	memoRequest struct {
		Content string `json:"content"`
	}
	adminLoginRequest struct {
		Password string `json:"password"`
	}
	cloudSetupRequest struct {
		Config           string `json:"config"`
		AcceptDerivedURL bool   `json:"acceptDerivedURL"`
	}
	sessionResponse struct {
		Token   string         `json:"token"`
		Session domain.Session `json:"session"`
	}
)

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	rooms, err := s.app.Rooms(r.Context(), sess)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req createRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	room, err := s.app.CreateRoom(r.Context(), sess, req.Title, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room.View())
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	room, err := s.app.Room(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	if err := s.app.DeleteRoom(r.Context(), sess, r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, sess, err := s.app.JoinRoom(r.Context(), r.PathValue("id"), req.Name, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Session: sess})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	token, ok := sessionToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.LeaveRoom(token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	msgs, err := s.app.Messages(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	if sess.Name == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.app.SendMessage(r.Context(), sess, r.PathValue("id"), req.Text)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleAddMemo(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req memoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	memo, err := s.app.AddMemo(r.Context(), sess, r.PathValue("id"), req.Content)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, memo)
}

func (s *Server) handleDeleteMemo(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	if err := s.app.DeleteMemo(r.Context(), sess, r.PathValue("id"), r.PathValue("memoId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportRoom(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	filename, data, err := s.app.ExportRoom(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportRoom(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	if !sess.IsAdmin() {
		s.writeAppError(w, r, app.ErrForbidden)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if !s.app.ImportRoom(r.Context(), sess, data) {
		writeError(w, http.StatusBadRequest, "invalid room file: an id and a title are required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"imported": true})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, sess, err := s.app.AdminLogin(req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Session: sess})
}

func (s *Server) handleCloudSetup(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req cloudSetupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	confirm := setup.Decline
	if req.AcceptDerivedURL {
		confirm = setup.Accept
	}
	creds, err := s.app.SetupCloud(r.Context(), sess, req.Config, confirm)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":        s.app.Mode(),
		"projectId":   creds.ProjectID,
		"databaseURL": creds.DatabaseURL,
	})
}

func (s *Server) handleCloudDisconnect(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	if err := s.app.DisconnectCloud(r.Context(), sess); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": s.app.Mode()})
}

// writeAppError maps service errors to HTTP statuses.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		missing  *setup.MissingFieldsError
		declined *setup.DerivedURLDeclinedError
		connect  *setup.ConnectError
	)
	switch {
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden), errors.Is(err, app.ErrAdminDisabled):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrWrongPassword):
		writeError(w, http.StatusForbidden, "wrong password")
	case errors.Is(err, app.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, setup.ErrFormat), errors.As(err, &missing), errors.As(err, &declined):
		writeError(w, http.StatusBadRequest, setup.UserMessage(err))
	case errors.As(err, &connect):
		writeError(w, http.StatusBadGateway, setup.UserMessage(err))
	case store.IsRemoteError(err):
		util.LoggerFromContext(r.Context()).Warn("cloud write failed", "err", err)
		writeError(w, http.StatusBadGateway, remoteWriteMessage)
	case errors.Is(err, store.ErrClosed), errors.Is(err, roomsync.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "room storage unavailable")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionToken reads the bearer token, or the token query parameter that
// browsers use for websocket upgrades.
func sessionToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		return token, token != ""
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	return token, token != ""
}
