package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams live mark-price ticks for one symbol through the hub.
func (s *Server) websocket(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_SYMBOL", "error": "symbol query parameter is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ticks, unsub := s.Hub.Subscribe(c.Request.Context(), symbol)
	defer unsub()

	for tick := range ticks {
		if err := conn.WriteJSON(tick); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
