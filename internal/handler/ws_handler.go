/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, upgrading
the HTTP connection to WebSocket and starting the client lifecycle. Identity is established later
over the event API with updateId or login.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/limiter"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/randx"
	"github.com/stanislavb/roleOOC/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(manager *chat.Manager, upgrader websocket.Upgrader, connects *limiter.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !connects.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		connID := randx.ConnectionID()
		client := chat.NewClient(manager, conn, connID)

		go client.WritePump()

		logx.Info("WebSocket connection established and client registered", "conn_id", connID, "ip", logx.AnonymizeIP(ip))

		client.ReadPump()
	}
}
