package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StreamEvents godoc
// @ID          streamEvents
// @Summary     Server-Sent Events for the current user
// @Description Emits routines.refreshed, completion.recorded and risk.computed. Delivery is best effort.
// @Tags        Events
// @Produce     text/event-stream
// @Success     200  {string}  string "event stream"
// @Router      /events [get]
func (h *Handlers) StreamEvents(c *gin.Context) {
	if h.events == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "event stream disabled")
		return
	}
	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	client := h.events.Subscribe(userID(c))
	defer h.events.Unsubscribe(client)

	h.events.ServeHTTP(c.Writer, c.Request, client)
}
