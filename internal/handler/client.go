package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"signserver/internal/logger"
	"signserver/internal/stream"
	"signserver/internal/transport"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers live viewers with the hub. The hub pushes
// overlay frames; anything the viewer sends is ignored.
func ViewWebsocketHandler(hub *stream.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			http.Error(w, "Camera not available", http.StatusServiceUnavailable)
			return
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		hub.Register(connection)
		defer hub.Unregister(connection)

		logger.Info("Viewer connected")

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected with error: %v", err)
				}
				break
			}
		}
	}
}

// VideoFeedHandler streams the overlay as multipart/x-mixed-replace JPEG parts
// until the client goes away.
func VideoFeedHandler(b *stream.Broadcaster, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if b == nil {
			http.Error(w, "Camera not available", http.StatusServiceUnavailable)
			return
		}

		frames, cancel := b.Subscribe()
		defer cancel()

		mw, err := transport.NewMJPEGWriter(w)
		if err != nil {
			logger.Error("Failed to start video feed: %v", err)
			return
		}
		flusher, _ := w.(http.Flusher)

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-frames:
				if !ok {
					return
				}
				if err := transport.WriteMJPEGPart(mw, data); err != nil {
					logger.Debug("Video feed client gone: %v", err)
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	}
}
