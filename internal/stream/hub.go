package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"signserver/internal/inference"
	"signserver/internal/landmark"
	"signserver/internal/logger"
	"signserver/internal/pipeline"
)

// liveMessage is what /ws/live viewers receive for every overlay frame.
type liveMessage struct {
	Image      string                      `json:"image"`
	Detections []inference.DetectionRecord `json:"detections"`
	Landmarks  landmark.Set                `json:"landmarks"`
	Timestamp  float64                     `json:"timestamp"`
}

// HubService fans live frames out to websocket viewers.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 1),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is done, then closes every viewer. Register
// and Unregister stop blocking once Run has returned.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", total)

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			var failed []*websocket.Conn
			h.mutex.RLock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message: %v", err)
					failed = append(failed, client)
				}
			}
			h.mutex.RUnlock()
			for _, client := range failed {
				h.remove(client)
			}
		}
	}
}

func (h *HubService) remove(client *websocket.Conn) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.Close()
	}
	total := len(h.clients)
	h.mutex.Unlock()
	if ok {
		h.logger.Info("Viewer disconnected. Total: %d", total)
	}
}

func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

// Publish queues a live frame; when viewers are slow the older frame is dropped.
func (h *HubService) Publish(f pipeline.LiveFrame) {
	if h.GetClientCount() == 0 {
		return
	}
	msg, err := json.Marshal(liveMessage{
		Image:      base64.StdEncoding.EncodeToString(f.JPEG),
		Detections: f.Detections,
		Landmarks:  f.Landmarks,
		Timestamp:  float64(f.Timestamp.UnixNano()) / 1e9,
	})
	if err != nil {
		h.logger.Error("Failed to encode live frame: %v", err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		select {
		case <-h.broadcast:
		default:
		}
		select {
		case h.broadcast <- msg:
		default:
		}
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
