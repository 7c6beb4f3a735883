package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/mdns"

	"github.com/bryanchriswhite/OverlayRecorder/internal/bridge"
	"github.com/bryanchriswhite/OverlayRecorder/internal/capture"
	"github.com/bryanchriswhite/OverlayRecorder/internal/drawing"
	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
	"github.com/bryanchriswhite/OverlayRecorder/internal/overlay"
	"github.com/bryanchriswhite/OverlayRecorder/internal/session"
	"github.com/bryanchriswhite/OverlayRecorder/internal/window"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Error codes returned to hosts
const (
	CodeNoPermission     = "NO_PERMISSION"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeStartFailed      = "START_FAILED"
	CodeStopFailed       = "STOP_FAILED"
	CodeSaveFailed       = "SAVE_FAILED"
	CodeInvalidState     = "INVALID_STATE"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInternal         = "INTERNAL"
)

// Server is the host application bridge over HTTP
type Server struct {
	router   *mux.Router
	ctrl     *session.Controller
	events   *bridge.Events
	upgrader websocket.Upgrader

	// CommandTimeout bounds session commands. Commands are not canceled
	// when the client goes away, since a half-done stop would lose the file.
	CommandTimeout time.Duration

	httpServer *http.Server
	mdnsServer *mdns.Server
}

// NewServer creates a new API server
func NewServer(ctrl *session.Controller, events *bridge.Events) *Server {
	s := &Server{
		router: mux.NewRouter(),
		ctrl:   ctrl,
		events: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // hosts connect from local webviews
			},
		},
		CommandTimeout: 30 * time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Session lifecycle
	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/session/prepare", s.handlePrepare).Methods("POST")
	api.HandleFunc("/session/start", s.handleStart).Methods("POST")
	api.HandleFunc("/session/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/session/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/session/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/session/restart", s.handleRestart).Methods("POST")

	// Overlays
	api.HandleFunc("/overlay/style", s.handleUpdateStyle).Methods("PUT")
	api.HandleFunc("/drawing/color", s.handleDrawingColor).Methods("PUT")
	api.HandleFunc("/drawing/width", s.handleDrawingWidth).Methods("PUT")
	api.HandleFunc("/drawing/enabled", s.handleDrawingEnabled).Methods("PUT")
	api.HandleFunc("/drawing/{action:show|hide|clear|undo}", s.handleDrawingAction).Methods("POST")
	api.HandleFunc("/drawing/snapshot.png", s.handleSnapshot).Methods("GET")
	api.HandleFunc("/drawing/export.pdf", s.handleExportPDF).Methods("GET")
	api.HandleFunc("/input", s.handleInput).Methods("POST")

	// Outbound events
	api.HandleFunc("/events", s.handleEvents)

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown. With advertise set, the bridge is
// announced over mDNS.
func (s *Server) Start(port int, advertise bool) error {
	log := logger.WithComponent("api")

	if advertise {
		server, err := Advertise(port)
		if err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement failed, hosts must be configured manually")
		} else {
			s.mdnsServer = server
			log.Info().Str("service", ServiceType).Int("port", port).Msg("Advertising bridge over mDNS")
		}
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", s.httpServer.Addr).Msg("Starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and the mDNS advertisement
func (s *Server) Shutdown(ctx context.Context) error {
	if s.mdnsServer != nil {
		_ = s.mdnsServer.Shutdown()
		s.mdnsServer = nil
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.CommandTimeout)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorStatus maps a command error to an HTTP status and wire code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrPermissionMissing):
		return http.StatusForbidden, CodeNoPermission
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden, CodePermissionDenied
	case errors.Is(err, session.ErrCaptureStartFailed):
		return http.StatusInternalServerError, CodeStartFailed
	case errors.Is(err, session.ErrCaptureStopFailed):
		return http.StatusInternalServerError, CodeStopFailed
	case errors.Is(err, session.ErrOutputVerificationFailed):
		return http.StatusInternalServerError, CodeSaveFailed
	case errors.Is(err, session.ErrInvalidState), errors.Is(err, session.ErrNotRecording):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, drawing.ErrInvalidWidth):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	logger.WithComponent("api").Warn().Err(err).Str("code", code).Msg("Command failed")
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: CodeBadRequest, Message: msg})
}

// decodeBody decodes a JSON body; an empty body leaves v untouched
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HTTP Handlers

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()

	if err := s.ctrl.Prepare(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": true})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var params capture.Params
	if err := decodeBody(r, &params); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctx, cancel := s.commandContext(r)
	defer cancel()

	out, err := s.ctrl.Start(ctx, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"path":       out.Path,
		"session_id": s.ctrl.SessionID(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()

	out, err := s.ctrl.StopSession(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": out.Path})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()

	if err := s.ctrl.Pause(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]session.State{"state": s.ctrl.State()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()

	if err := s.ctrl.Resume(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]session.State{"state": s.ctrl.State()})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()

	out, err := s.ctrl.Restart(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": out.Path})
}

func (s *Server) handleUpdateStyle(w http.ResponseWriter, r *http.Request) {
	var update overlay.StyleUpdate
	if err := decodeBody(r, &update); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	style, err := s.ctrl.UpdateOverlayStyle(r.Context(), update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, style)
}

func (s *Server) handleDrawingColor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Color *overlay.Color `json:"color"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Color == nil {
		writeBadRequest(w, "color is required")
		return
	}

	if err := s.ctrl.SetDrawingColor(r.Context(), *req.Color); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Drawing().Style())
}

func (s *Server) handleDrawingWidth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width *float64 `json:"width"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Width == nil {
		writeBadRequest(w, "width is required")
		return
	}

	if err := s.ctrl.SetDrawingWidth(r.Context(), *req.Width); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Drawing().Style())
}

func (s *Server) handleDrawingEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	if err := s.ctrl.SetDrawingEnabled(r.Context(), *req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	s.writeDrawingState(w)
}

func (s *Server) handleDrawingAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var err error
	switch mux.Vars(r)["action"] {
	case "show":
		err = s.ctrl.ShowDrawing(ctx)
	case "hide":
		err = s.ctrl.HideDrawing(ctx)
	case "clear":
		err = s.ctrl.ClearDrawing(ctx)
	case "undo":
		_, err = s.ctrl.UndoDrawing(ctx)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	s.writeDrawingState(w)
}

func (s *Server) writeDrawingState(w http.ResponseWriter) {
	d := s.ctrl.Drawing()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"visible": d.Visible(),
		"enabled": d.Enabled(),
		"strokes": len(d.Strokes()),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	scale := 1.0
	if v := r.URL.Query().Get("scale"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !(f > 0) || f > 4 {
			writeBadRequest(w, "scale must be a number in (0, 4]")
			return
		}
		scale = f
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := s.ctrl.Drawing().EncodePNG(w, scale); err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("Failed to render drawing snapshot")
	}
}

func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="drawing.pdf"`)
	if err := s.ctrl.Drawing().ExportPDF(w); err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("Failed to export drawing")
	}
}

type inputRequest struct {
	Surface string  `json:"surface"`
	Phase   string  `json:"phase"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	TimeMs  int64   `json:"time_ms"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	phase, ok := window.ParsePhase(req.Phase)
	if !ok {
		writeBadRequest(w, fmt.Sprintf("unknown phase %q", req.Phase))
		return
	}

	ev := window.PointerEvent{
		Surface: window.ID(req.Surface),
		Phase:   phase,
		X:       req.X,
		Y:       req.Y,
	}
	if req.TimeMs > 0 {
		ev.Time = time.UnixMilli(req.TimeMs)
	}

	consumed, err := s.ctrl.DeliverInput(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"consumed": consumed})
}

// handleEvents streams outbound events as text frames. A new connection
// replaces the previous listener.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	// Subscribe before the handshake completes so no event emitted after
	// the client sees the upgrade is lost
	events, cancel := s.events.Subscribe()
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced by a new listener")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"version":   Version,
		"state":     s.ctrl.State(),
		"listening": s.events.Listening(),
	})
}
