package handlers

import (
	"buildmysite-backend/internal/events"
	"buildmysite-backend/internal/services"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventsHandler streams project events over a websocket.
type EventsHandler struct {
	projects *services.ProjectService
	broker   *events.Broker
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewEventsHandler creates an EventsHandler. Browsers may connect from trustedOrigins only;
// "*" allows any origin.
func NewEventsHandler(projects *services.ProjectService, broker *events.Broker, trustedOrigins []string, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		projects: projects,
		broker:   broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(trustedOrigins, "*") || slices.Contains(trustedOrigins, origin)
			},
		},
		logger: logger.Named("events_handler"),
	}
}

// HandleProjectEvents handles GET /v1/projects/{projectID}/events.
// The first frame describes the current state; later frames are broker events as JSON.
func (h *EventsHandler) HandleProjectEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := uuidParam(w, r, "projectID")
	if !ok {
		return
	}

	updates, cancel := h.broker.Subscribe(projectID)
	defer cancel()

	project, err := h.projects.Authorize(r.Context(), userID, projectID)
	if err != nil {
		respondServiceError(w, h.logger, "project_events", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.Stringer("project_id", projectID))
	log.Debug("Event stream opened")

	// The read side only handles control frames and notices the client leaving.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := events.Event{Type: events.ProjectUpdated, ProjectID: projectID, VersionID: project.CurrentVersionID, At: time.Now().UTC()}
	if project.IsGenerating() {
		initial.Type = events.GenerationStarted
	}
	if err := writeEvent(conn, initial); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-updates:
			if err := writeEvent(conn, ev); err != nil {
				log.Debug("Event stream write failed", zap.Error(err))
				return
			}
			if ev.Type == events.ProjectDeleted {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "project deleted"),
					time.Now().Add(writeWait))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			log.Debug("Event stream closed by client")
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
