package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	helpers "github.com/gofbot/gofbot-launcher/pkg/shared"
	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/httpHelpers"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/supervisor"
)

// Controller is the supervisor as seen from the bridge.
type Controller interface {
	Start(ctx context.Context, opts defs.LaunchOptions) (defs.DisplayInfo, error)
	Stop()
	Status() defs.BotStatus
}

// Probe checks whether the running bot's control server answers.
type Probe func(ctx context.Context) error

type Server struct {
	hub         *Hub
	ctl         Controller
	secret      string
	frontendDir string
	metrics     http.Handler
	probe       Probe
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

type ServerOption func(*Server)

// WithSecret requires an HS256 bridge token on every control route.
func WithSecret(secret string) ServerOption {
	return func(s *Server) {
		s.secret = secret
	}
}

func WithFrontendDir(dir string) ServerOption {
	return func(s *Server) {
		s.frontendDir = dir
	}
}

func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithProbe(p Probe) ServerOption {
	return func(s *Server) {
		s.probe = p
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(hub *Hub, ctl Controller, opts ...ServerOption) *Server {
	s := &Server{
		hub:    hub,
		ctl:    ctl,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			// the UI is served from this host or loaded from file://
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.withAuth)
		r.Get("/ws", s.handleWS)
		r.Post("/bot", s.handleStart)
		r.Delete("/bot", s.handleStop)
		r.Get("/bot", s.handleStatus)
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	if s.frontendDir != "" {
		r.Handle("/*", spaHandler{
			root: s.frontendDir,
			fs:   http.FileServer(http.Dir(s.frontendDir)),
		})
	}
	return r
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		client, err := helpers.ParseBridgeToken(s.secret, token)
		if err != nil {
			s.logger.Warn("Rejected bridge request", "path", r.URL.Path, "remoteAddr", r.RemoteAddr, "error", err)
			httpHelpers.WriteError(w, http.StatusUnauthorized, "Invalid or missing bridge token")
			return
		}
		s.logger.Debug("Authenticated bridge request", "client", client, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Problem with HTTP upgrade", "error", err)
		return
	}
	defer helpers.CloseOrLog(conn)

	c := newClient(conn)
	s.hub.register(c)
	defer s.hub.unregister(c)

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(c, done)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Error reading message", "clientId", c.ID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			s.logger.Warn("Ignoring non-text message", "clientId", c.ID, "type", messageType)
			continue
		}
		if string(message) == "PING" {
			if err := c.write(websocket.TextMessage, []byte("PONG")); err != nil {
				s.logger.Error("Failed to send pong message", "error", err)
			}
			continue
		}

		s.dispatch(r.Context(), c, message)
	}
}

func (s *Server) pingLoop(c *Client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("Ping failed", "clientId", c.ID, "error", err)
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *Client, message []byte) {
	var env defs.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.Warn("Ignoring malformed bridge message", "clientId", c.ID, "error", err)
		return
	}
	logger := s.logger.With("clientId", c.ID, "event", env.Event)

	switch env.Event {
	case defs.EventStartBot:
		var opts defs.LaunchOptions
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &opts); err != nil {
				logger.Warn("Bad start-bot payload", "error", err)
				s.sendStartError(c, err.Error(), supervisor.KindBadRequest)
				return
			}
		}
		logger.Info("Start requested", "auth", opts.Auth)
		if _, err := s.ctl.Start(ctx, opts); err != nil {
			s.sendStartError(c, err.Error(), supervisor.ErrorKind(err))
		}
	case defs.EventStopBot, defs.EventKillBot:
		logger.Info("Stop requested")
		s.ctl.Stop()
	default:
		logger.Warn("Ignoring unknown bridge event")
	}
}

func (s *Server) sendStartError(c *Client, msg, kind string) {
	if err := c.Send(defs.EventStartBotError, defs.StartErrorBody{Error: msg, Kind: kind}); err != nil {
		s.logger.Warn("Failed to report start error", "clientId", c.ID, "error", err)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var opts defs.LaunchOptions
	if err := httpHelpers.ReadJSON(r, &opts); err != nil {
		s.logger.Error("Error decoding request body", "error", err)
		httpHelpers.WriteError(w, http.StatusBadRequest, "Error decoding request body")
		return
	}

	startTime := time.Now()
	info, err := s.ctl.Start(r.Context(), opts)
	elapsed := time.Since(startTime)
	if err != nil {
		kind := supervisor.ErrorKind(err)
		httpHelpers.WriteErrorKind(w, startErrorStatus(kind), err.Error(), kind)
		return
	}

	httpHelpers.WriteTimings(w, httpHelpers.Timings{"start-time": elapsed})
	httpHelpers.WriteOutput(w, info)
}

func startErrorStatus(kind string) int {
	switch kind {
	case supervisor.KindAlreadyRunning:
		return http.StatusConflict
	case supervisor.KindBadRequest:
		return http.StatusBadRequest
	case supervisor.KindConfigParse, supervisor.KindConfigMissing:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.ctl.Stop()
	elapsed := time.Since(start)

	httpHelpers.WriteTimings(w, httpHelpers.Timings{"stop-time": elapsed})
	httpHelpers.WriteOutput(w, map[string]any{"msg": "Bot stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.ctl.Status()

	if status.State == supervisor.StateRunning.String() && s.probe != nil {
		start := time.Now()
		err := s.probe(r.Context())
		elapsed := time.Since(start)
		if err != nil {
			s.logger.Debug("Bot control server not reachable", "error", err)
		}
		status.IsReachable = err == nil
		httpHelpers.WriteTimings(w, httpHelpers.Timings{"check-time": elapsed})
	}

	httpHelpers.WriteOutput(w, status)
}
