package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
	"github.com/sapphir-health/sapphir-gateway/internal/session"
)

// DefaultTurnTimeout bounds each websocket turn. The connection itself lives
// until either side closes it.
const DefaultTurnTimeout = 30 * time.Second

// WSIncoming is one client frame.
type WSIncoming struct {
	Message string `json:"message"`
}

// WSResponse is one server frame. Type is connected, response or error.
// Response is set on every response frame, even when the reply is empty.
type WSResponse struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id,omitempty"`
	Response  *string `json:"response,omitempty"`
	Error     string  `json:"error,omitempty"`
	Status    int     `json:"status,omitempty"`
}

// WSHandler runs turns over a websocket. The session key comes from the
// user_id query parameter, falling back to defaultKey like /chat. Frames on
// one connection are answered in order.
type WSHandler struct {
	svc            Service
	defaultKey     string
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	turnTimeout    time.Duration
	logger         *slog.Logger
}

// NewWSHandler creates a websocket handler. An empty allowedOrigins (or "*")
// accepts any origin.
func NewWSHandler(svc Service, defaultKey string, allowedOrigins []string, turnTimeout time.Duration, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultKey == "" {
		defaultKey = session.DefaultKey
	}
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	h := &WSHandler{
		svc:            svc,
		defaultKey:     defaultKey,
		allowedOrigins: origins,
		turnTimeout:    turnTimeout,
		logger:         logger,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 || h.allowedOrigins["*"] {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return h.allowedOrigins[origin]
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	key := r.URL.Query().Get("user_id")
	if key == "" {
		key = h.defaultKey
	}
	if err := conn.WriteJSON(WSResponse{Type: "connected", SessionID: key}); err != nil {
		return
	}

	// Request-scoped deadlines would otherwise cap the connection lifetime.
	base, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var in WSIncoming
		if err := json.Unmarshal(frame, &in); err != nil {
			if err := conn.WriteJSON(WSResponse{Type: "error", Error: msgInvalidBody, Status: http.StatusBadRequest}); err != nil {
				return
			}
			continue
		}

		if err := conn.WriteJSON(h.turn(base, key, in.Message)); err != nil {
			h.logger.Warn("websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (h *WSHandler) turn(base context.Context, key, text string) WSResponse {
	ctx, cancel := context.WithTimeout(base, h.turnTimeout)
	defer cancel()

	reply, err := h.svc.Turn(ctx, key, text)
	if err == nil {
		return WSResponse{Type: "response", Response: &reply}
	}
	if gwErr, ok := domain.AsError(err); ok {
		return WSResponse{Type: "error", Error: gwErr.Message, Status: gwErr.HTTPStatusCode()}
	}
	h.logger.Error("unhandled gateway error", slog.String("error", err.Error()))
	return WSResponse{Type: "error", Error: msgInternalError, Status: http.StatusInternalServerError}
}
