// internal/handlers/conn.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/gameroom/internal/game"
	"github.com/sirupsen/logrus"
)

const (
	outQueueSize = 32
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// outbound is one queued frame. A non-zero closeCode closes the socket after the frame is written.
type outbound struct {
	data      []byte
	closeCode websocket.StatusCode
	reason    string
}

// wsConn adapts a WebSocket to room.Connection. Send never blocks: frames go through OutChan
// and are dropped when the client falls behind.
type wsConn struct {
	id      string
	OutChan chan outbound
	log     *logrus.Entry

	mu     sync.Mutex
	closed bool
}

func newWSConn(id string, log *logrus.Entry) *wsConn {
	return &wsConn{id: id, OutChan: make(chan outbound, outQueueSize), log: log}
}

// Send implements room.Connection. room_closed is the last frame a room sends, so the socket
// is closed right after it.
func (c *wsConn) Send(ev game.Event) {
	msg := outbound{data: ev.Bytes()}
	if ev.Type == game.EventRoomClosed {
		msg.closeCode, msg.reason = websocket.StatusNormalClosure, "room closed: "+ev.Reason
	}
	c.enqueue(msg, string(ev.Type))
}

// sendJSON queues a transport-level message such as pong or error.
func (c *wsConn) sendJSON(v map[string]interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warnf("failed to marshal message for %s: %v", c.id, err)
		return
	}
	c.enqueue(outbound{data: data}, fmt.Sprint(v["type"]))
}

func (c *wsConn) sendError(message string) {
	c.sendJSON(map[string]interface{}{"type": "error", "message": message})
}

func (c *wsConn) enqueue(msg outbound, msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.OutChan <- msg:
	default:
		c.log.Warnf("out queue for %s full, dropped message type '%s'", c.id, msgType)
	}
}

// close stops further sends and ends the write pump once the queue drains.
func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.OutChan)
	}
}

// writePump drains OutChan onto the socket and keeps the connection alive with pings.
func writePump(ctx context.Context, ws *websocket.Conn, conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, msg.data)
			cancel()
			if err != nil {
				conn.log.Debugf("write to %s failed: %v", conn.id, err)
				return
			}
			if msg.closeCode != 0 {
				ws.Close(msg.closeCode, msg.reason)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.log.Warnf("ping to %s failed: %v. Assuming disconnect.", conn.id, err)
				return
			}
		}
	}
}
