package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/anserhq/anser"
)

// streamChunkSize is how many bytes of response text one SSE data frame
// carries. Chunks break on rune boundaries.
const streamChunkSize = 512

// handleChatStream answers a chat request as a server-sent event stream:
// "data" frames carry the response text in order, one final "done" frame
// carries the session and metadata. Hard failures answer as plain JSON
// before any frame is written.
func (s *Server) handleChatStream(c *gin.Context) {
	var req anser.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindReject(c, err)
		return
	}

	res := s.core.RunChat(c.Request.Context(), req)
	if res.Status == anser.StatusError {
		c.JSON(statusOf(res.Status, res.Failure), res)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for _, chunk := range splitChunks(res.Response, streamChunkSize) {
		if err := writeEvent(c.Writer, "data", gin.H{"text": chunk}); err != nil {
			return // client went away
		}
		c.Writer.Flush()
	}

	done := gin.H{
		"status":     res.Status,
		"session_id": res.SessionID,
		"metadata":   res.Metadata,
	}
	if err := writeEvent(c.Writer, "done", done); err != nil {
		return
	}
	c.Writer.Flush()
}

func writeEvent(w io.Writer, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// splitChunks cuts s into pieces of at most n bytes without splitting a rune.
func splitChunks(s string, n int) []string {
	if s == "" {
		return nil
	}
	var chunks []string
	for len(s) > n {
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = n
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return append(chunks, s)
}
