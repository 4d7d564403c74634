package handlers

import (
	"log"

	"github.com/gofiber/websocket/v2"

	"github.com/clipforge/clipforge/internal/runner"
)

// EventsHandler streams job stage events over WebSocket.
type EventsHandler struct {
	runner *runner.Runner
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(r *runner.Runner) *EventsHandler {
	return &EventsHandler{runner: r}
}

// Handle pushes every job event to the connected client until it hangs up.
func (h *EventsHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	events := h.runner.Subscribe()
	defer h.runner.Unsubscribe(events)

	// Read pump: detect client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
