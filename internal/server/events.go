package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moviereviews/backend/internal/movies"
	"github.com/gin-gonic/gin"
)

const opRatingEvents = "movies.rating_events"

type ratingEventPayload struct {
	MovieID       int64    `json:"movieId"`
	AverageRating *float64 `json:"averageRating"`
	Timestamp     string   `json:"timestamp"`
	Source        string   `json:"source"`
}

type heartbeatPayload struct {
	Timestamp string `json:"timestamp"`
}

func (h *httpHandler) handleRatingEvents(c *gin.Context) {
	var movieID int64
	if raw := strings.TrimSpace(c.Query("movieId")); raw != "" {
		parsed, err := movies.ParseID(raw)
		if err != nil {
			h.respondInvalidRequest(c, opRatingEvents, err)
			return
		}
		movieID = parsed
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, movieID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.writeHeartbeat(c)

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(RealtimeEventRatingChanged, ratingEventPayload{
				MovieID:       event.MovieID,
				AverageRating: event.AverageRating,
				Timestamp:     event.Timestamp.UTC().Format(time.RFC3339Nano),
				Source:        realtimeSourceBackend,
			})
			c.Writer.Flush()
		case <-ticker.C:
			h.writeHeartbeat(c)
		}
	}
}

func (h *httpHandler) writeHeartbeat(c *gin.Context) {
	c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{Timestamp: time.Now().UTC().Format(time.RFC3339Nano)})
	c.Writer.Flush()
}
