package conn

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/chris-pikul/wormhole-mailbox-server/log"
	"github.com/chris-pikul/wormhole-mailbox-server/relay"
)

const (
	readWait  = 60 * time.Second
	writeWait = 10 * time.Second

	pingInterval = (readWait * 9) / 10

	maxMessageSize = 4096

	// ratePerSecond and burst bound how fast one connection may feed
	// the dispatcher envelopes; ambient abuse protection, not part of
	// the wire contract itself.
	ratePerSecond = 20
	burst         = 40
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout:  time.Minute,
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: true,
}

// Transport wires one accepted websocket connection to a Dispatcher:
// a read pump that feeds frames to the FSM and a write pump that
// drains an outbound buffer to the socket, matching the teacher's
// watchReads/watchWrites split and its ping/pong keepalive.
type Transport struct {
	conn *websocket.Conn
	out  chan interface{}
	done chan struct{}

	limiter *rate.Limiter
}

// Handler returns an http.HandlerFunc that upgrades requests to
// websocket connections bound to /v1 and drives each with its own
// Dispatcher.
func Handler(srv *relay.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("websocket upgrade failed: %s", err.Error())
			return
		}

		t := &Transport{
			conn:    wsConn,
			out:     make(chan interface{}, 64),
			done:    make(chan struct{}),
			limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		}

		d := NewDispatcher(srv, t, func() int64 { return time.Now().Unix() })

		go t.watchWrites()
		d.OnConnect()
		t.watchReads(d)
	}
}

// Send implements Sender by queueing v for the write pump. It drops
// the frame if the buffer is full rather than blocking the
// dispatcher, since a slow reader should not stall the whole server.
func (t *Transport) Send(v interface{}) {
	select {
	case t.out <- v:
	default:
		log.Warnf("outbound buffer full, dropping frame for slow connection")
	}
}

func (t *Transport) watchReads(d *Dispatcher) {
	defer func() {
		close(t.done)
		d.OnClose()
	}()

	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(readWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("websocket read error: %s", err.Error())
			}
			return
		}

		if err := t.limiter.Wait(context.Background()); err != nil {
			return
		}

		d.OnFrame(data)
	}
}

func (t *Transport) watchWrites() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case v, ok := <-t.out:
			if !ok {
				return
			}
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := t.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if err := json.NewEncoder(w).Encode(v); err != nil {
				log.Errorf("failed to encode outbound frame: %s", err.Error())
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}
