package server

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	realtimeMessageWelcome = "WELCOME"
	realtimeMessageUpdate  = "LEADERBOARD_UPDATE"
	realtimeWelcomeText    = "connected to the CaçaMites leaderboard"

	realtimeWriteTimeout = 10 * time.Second
	realtimePongTimeout  = 60 * time.Second
	realtimePingInterval = 25 * time.Second
	realtimeReadLimit    = 512
)

type realtimeWelcomePayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type leaderboardUpdatePayload struct {
	Type              string `json:"type"`
	PlayerDisplayName string `json:"playerDisplayName"`
	NewScore          int64  `json:"newScore"`
	Message           string `json:"message"`
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.ContainsFunc(allowedOrigins, func(allowed string) bool {
				return strings.EqualFold(allowed, origin)
			})
		},
	}
}

func (h *httpHandler) handleLeaderboardSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	conn.SetReadLimit(realtimeReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(realtimePongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(realtimePongTimeout))
	})

	// Inbound frames are ignored; reading drives control frames and detects closure.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeRealtimeJSON(conn, realtimeWelcomePayload{Type: realtimeMessageWelcome, Message: realtimeWelcomeText}); err != nil {
		h.logger.Debug("websocket welcome failed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(realtimePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.realtime.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(realtimeWriteTimeout),
			)
			return
		case event := <-stream:
			payload := leaderboardUpdatePayload{
				Type:              realtimeMessageUpdate,
				PlayerDisplayName: event.PlayerDisplayName,
				NewScore:          event.NewCumulativeScore,
				Message:           event.Message,
			}
			if err := writeRealtimeJSON(conn, payload); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(realtimeWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func writeRealtimeJSON(conn *websocket.Conn, payload interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}
