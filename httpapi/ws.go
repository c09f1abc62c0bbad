package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"gigflow/event"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// handleWS bridges one bus scope onto a websocket. The caller must be allowed
// to read the scope: a user scope must be their own, a job scope requires
// conversation participation.
func (s *Server) handleWS(c echo.Context) error {
	userID := callerID(c)
	scope := c.QueryParam("scope")

	switch {
	case scope == event.UserScope(userID):
		// own user scope, always allowed
	case strings.HasPrefix(scope, "job:"):
		jobID := strings.TrimPrefix(scope, "job:")
		ok, err := s.chat.IsParticipant(c.Request().Context(), jobID, userID)
		if err != nil {
			return writeDomainError(c, err)
		}
		if !ok {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not a participant in this job"})
		}
	default:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "scope not readable"})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := s.bus.Subscribe(scope, nil)

	// The debouncer fires from its own timer goroutine, so frame writes are
	// serialized through a mutex.
	var writeMu sync.Mutex
	push := func(frame echo.Map) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return ws.WriteJSON(frame)
	}

	// Push loop. Thread updates arrive in bursts while a conversation is
	// active; they collapse into one refresh frame per quiet window. Everything
	// else is forwarded as-is. Consumers de-duplicate by event id; delivery is
	// at-least-once with no cross-scope ordering.
	go func() {
		deb := event.NewDebouncer(event.DefaultDebounceWindow, func(threadIDs []string) {
			if err := push(echo.Map{"type": "threads.refresh", "entity_ids": threadIDs}); err != nil {
				sub.Unsubscribe()
			}
		})
		defer deb.Stop()

		for ev := range sub.C() {
			if ev.Type == event.TypeThreadUpdated {
				deb.Observe(ev)
				continue
			}
			if err := push(echo.Map{
				"id":        ev.ID,
				"type":      ev.Type,
				"entity_id": ev.EntityID,
				"at":        ev.At,
				"payload":   ev.Payload,
			}); err != nil {
				sub.Unsubscribe()
				return
			}
		}
	}()

	// Read loop: the protocol is server push; reads only detect disconnect.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	sub.Unsubscribe()
	_ = ws.Close()
	return nil
}
