package bridge

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/sebest/xff"
)

const (
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = 30 * time.Second
	MaxMessageSize = 512 * 1024
)

// Server carries capability requests over websocket connections.
type Server struct {
	*B
	upgrader websocket.Upgrader
	clients  sync.Map
}

// NewServer accepts websocket upgrades from origins that allow approves. A
// nil allow accepts only requests that carry no Origin header, which is what
// local processes send.
func NewServer(b *B, allow func(origin string) bool) *Server {
	if allow == nil {
		allow = func(string) bool { return false }
	}
	return &Server{
		B: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allow(origin)
			},
		},
	}
}

type conn struct {
	mx sync.Mutex
	ws *websocket.Conn
}

func (c *conn) writeJSON(v any) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	chk.E(c.ws.SetWriteDeadline(time.Now().Add(WriteWait)))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait))
}

// ServeHTTP upgrades the request and answers requests until the peer goes
// away. Requests on one connection run concurrently.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if chk.E(err) {
		return
	}
	remote := xff.GetRemoteAddr(r)
	log.D.Ln("bridge client connected from", remote)
	c := &conn{ws: ws}
	s.clients.Store(c, struct{}{})
	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(PingPeriod)
	var wg sync.WaitGroup
	kill := func() {
		ticker.Stop()
		cancel()
		if _, ok := s.clients.LoadAndDelete(c); ok {
			chk.D(ws.Close())
			log.D.Ln("bridge client disconnected", remote)
		}
	}
	go func() {
		defer kill()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					if !strings.HasSuffix(err.Error(), "use of closed network connection") {
						log.E.F("error writing ping to %s: %v; closing websocket", remote, err)
					}
					return
				}
			}
		}
	}()
	defer func() {
		// in flight requests still get their answer written or failed
		wg.Wait()
		kill()
	}()
	ws.SetReadLimit(MaxMessageSize)
	chk.E(ws.SetReadDeadline(time.Now().Add(PongWait)))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(PongWait))
	})
	for {
		typ, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure,
			) {
				log.E.F("unexpected close error from %s: %v", remote, err)
			}
			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		log.T.F("bridge request from %s: %s", remote, msg)
		wg.Add(1)
		go func(msg []byte) {
			defer wg.Done()
			chk.D(c.writeJSON(s.HandleMessage(ctx, msg)))
		}(msg)
	}
}

// Clients counts open connections.
func (s *Server) Clients() (n int) {
	s.clients.Range(func(any, any) bool {
		n++
		return true
	})
	return
}

// Close drops every connection.
func (s *Server) Close() {
	s.clients.Range(func(k, _ any) bool {
		chk.D(k.(*conn).ws.Close())
		return true
	})
}
