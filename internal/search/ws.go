package search

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"archimap/internal/apierr"
	"archimap/internal/catalog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteWait    = 2 * time.Second
	wsMaxInputSize = 1024
)

// autocompleteRequest is one keystroke from the client. Seq is echoed back so
// the client can drop stale answers.
type autocompleteRequest struct {
	Seq   int64  `json:"seq"`
	Query string `json:"q"`
}

type autocompleteReply struct {
	Type        string               `json:"type"`
	Seq         int64                `json:"seq"`
	Query       string               `json:"q"`
	Suggestions []catalog.Suggestion `json:"suggestions,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(v)
}

// AutocompleteWS streams suggestions for debounced input over a websocket.
// Only the last input of a burst is looked up.
func (h *Handler) AutocompleteWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(wsMaxInputSize)
	conn := &wsConn{ws: ws}
	h.Logger.Debug("autocomplete client connected", zap.String("remote", c.ClientIP()))

	ctx, cancel := context.WithCancel(context.Background())
	deb := NewDebouncer(h.Debounce)
	defer func() {
		deb.Stop()
		cancel()
		_ = ws.Close()
		h.Logger.Debug("autocomplete client disconnected", zap.String("remote", c.ClientIP()))
	}()

	_ = conn.writeJSON(gin.H{"type": "welcome", "transport": "websocket"})

	for {
		var req autocompleteRequest
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		deb.Submit(func() {
			out, err := h.Service.Autocomplete(ctx, req.Query)
			reply := autocompleteReply{Type: "suggestions", Seq: req.Seq, Query: req.Query, Suggestions: out}
			if err != nil {
				_, reply.Error = apierr.Classify(err)
				reply.Type = "error"
			}
			if err := conn.writeJSON(reply); err != nil {
				cancel()
			}
		})
	}
}
