package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/event"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Manage/Client callers are trusted token-bearing clients, not arbitrary
	// browser origins; the bearer-token check already happened in
	// authenticate, so origin checking adds nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveScreenSocket upgrades to a websocket and streams a server's screen
// output: the cached backlog first, then live batches, one JSON array of
// lines per message, until the client disconnects or the server is torn
// down (which closes the channel on the manager side).
func serveScreenSocket(c *gin.Context, svc *Service, serverID uuid.UUID) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel, err := svc.SubscribeScreen(c.Request.Context(), serverID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	pumpLines(c.Request.Context(), conn, ch)
}

// serveTransferSocket streams UserTransferRequested envelopes to the server
// that owns the given serverID principal, so it can push the named users to
// their resolved destination address.
func serveTransferSocket(c *gin.Context, svc *Service, serverID uuid.UUID) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := svc.SubscribeTransfer(c.Request.Context(), serverID)
	defer cancel()

	pumpEnvelopes(c.Request.Context(), conn, ch)
}

// serveChannelSocket streams ChannelMessage envelopes for a named channel.
func serveChannelSocket(c *gin.Context, svc *Service, channel string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := svc.SubscribeChannel(c.Request.Context(), channel)
	defer cancel()

	pumpEnvelopes(c.Request.Context(), conn, ch)
}

// pumpLines/pumpEnvelopes also select on ctx.Done so a subscription that
// never receives another message still releases its handler goroutine once
// the underlying connection's request context is cancelled, instead of
// blocking on the channel forever.
func pumpLines(ctx context.Context, conn *websocket.Conn, ch <-chan []string) {
	for {
		select {
		case <-ctx.Done():
			return
		case lines, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(lines); err != nil {
				return
			}
		}
	}
}

func pumpEnvelopes(ctx context.Context, conn *websocket.Conn, ch <-chan event.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(env.Payload); err != nil {
				return
			}
		}
	}
}
