package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v2"
)

// ErrClientClosed is returned for calls on a closed client or pending when
// the connection drops.
var ErrClientClosed = errors.New("bridge connection closed")

// Client sends capability requests over one websocket and matches responses
// to requests by id, so calls may overlap.
type Client struct {
	ws      *websocket.Conn
	writeMx sync.Mutex
	pending *xsync.MapOf[string, chan Response]
	done    chan struct{}
	err     error
}

// Dial connects to a bridge websocket url, e.g. ws://127.0.0.1:7447/bridge.
func Dial(c context.Context, url string, header http.Header) (cl *Client, err error) {
	var ws *websocket.Conn
	if ws, _, err = websocket.DefaultDialer.DialContext(c, url, header); err != nil {
		return
	}
	cl = &Client{
		ws:      ws,
		pending: xsync.NewMapOf[chan Response](),
		done:    make(chan struct{}),
	}
	go cl.read()
	return
}

func (cl *Client) read() {
	defer close(cl.done)
	for {
		_, msg, err := cl.ws.ReadMessage()
		if err != nil {
			cl.err = err
			return
		}
		var r Response
		if err = json.Unmarshal(msg, &r); chk.D(err) {
			continue
		}
		if ch, ok := cl.pending.LoadAndDelete(r.ID); ok {
			ch <- r
		} else {
			log.D.F("response for unknown request %q", r.ID)
		}
	}
}

// Call sends req and waits for its response. A rejection by the bridge comes
// back as a Response with Error set, not as err.
func (cl *Client) Call(c context.Context, req Request) (r Response, err error) {
	id := uuid.NewString()
	ch := make(chan Response, 1)
	cl.pending.Store(id, ch)
	defer cl.pending.Delete(id)
	cl.writeMx.Lock()
	err = cl.ws.WriteJSON(Encode(id, req))
	cl.writeMx.Unlock()
	if err != nil {
		return
	}
	select {
	case r = <-ch:
	case <-cl.done:
		err = ErrClientClosed
	case <-c.Done():
		err = c.Err()
	}
	return
}

func (cl *Client) Close() error {
	err := cl.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	cl.ws.Close()
	return err
}
