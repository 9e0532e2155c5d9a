package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const eventsKeepAlive = 25 * time.Second

// GET /api/events?ticker=AAPL
//
// Streams alerts as server-sent events until the client goes away or the
// server shuts down.
func (s *Server) streamEvents(c *gin.Context) {
	events, cancel := s.deps.Events.Subscribe(c.Query("ticker"))
	defer cancel()

	// The server write timeout would otherwise cut the stream.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(eventsKeepAlive)
	defer keepAlive.Stop()

	c.SSEvent("ready", gin.H{"subscribers": s.deps.Events.SubscriberCount()})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"at": s.now().Unix()})
			return true
		}
	})
}
