package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	todosync "github.com/mschirtzinger/todosync/internal/sync"
)

// StatsData counts coordinator events by kind.
type StatsData struct {
	Events        map[todosync.EventKind]int `json:"events"`
	LastUpdate    string                     `json:"last_update,omitempty"`
	Categories    int                        `json:"categories"`
	LastError     string                     `json:"last_error,omitempty"`
	LastErrorAt   time.Time                  `json:"last_error_at,omitempty"`
	LastPublishAt time.Time                  `json:"last_publish_at,omitempty"`
}

// Handler turns coordinator events into dashboard messages. Register
// OnEvent with the coordinator's Subscribe.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		stats: StatsData{
			Events: make(map[todosync.EventKind]int),
		},
	}
}

// OnEvent records ev and broadcasts it followed by the updated stats.
func (h *Handler) OnEvent(ev todosync.Event) {
	h.mu.Lock()
	h.stats.Events[ev.Kind]++
	if ev.LastUpdate != "" {
		h.stats.LastUpdate = ev.LastUpdate
	}
	h.stats.Categories = ev.Categories
	switch ev.Kind {
	case todosync.EventPublished:
		h.stats.LastPublishAt = ev.At
	case todosync.EventPublishFailed, todosync.EventRemoteUnavailable, todosync.EventRemoteUnreadable:
		h.stats.LastError = ev.Err
		h.stats.LastErrorAt = ev.At
	}
	stats := h.copyStatsLocked()
	h.mu.Unlock()

	dataJSON, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncEvent,
		Timestamp: ev.At,
		Data:      dataJSON,
	})

	h.broadcastStats(stats)
}

func (h *Handler) broadcastStats(stats StatsData) {
	dataJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

func (h *Handler) copyStatsLocked() StatsData {
	out := h.stats
	out.Events = make(map[todosync.EventKind]int, len(h.stats.Events))
	for k, v := range h.stats.Events {
		out.Events[k] = v
	}
	return out
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.copyStatsLocked()
}
