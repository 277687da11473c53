// Package relaytest runs an in-memory nostr relay over a real websocket for
// tests: it stores published events, answers REQs until EOSE and pushes new
// events to open subscriptions.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/net/websocket"
)

type conn struct {
	mx   sync.Mutex
	ws   *websocket.Conn
	subs map[string]nostr.Filters
}

func (c *conn) send(v any) {
	c.mx.Lock()
	defer c.mx.Unlock()
	websocket.JSON.Send(c.ws, v)
}

type Server struct {
	*httptest.Server

	mx        sync.Mutex
	events    []*nostr.Event
	published []*nostr.Event
	reqs      []nostr.Filters
	conns     map[*conn]struct{}
	reject    string
	closeReq  string
}

func New() *Server {
	s := &Server{conns: make(map[*conn]struct{})}
	s.Server = httptest.NewServer(&websocket.Server{
		// relay clients send no origin
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   s.handle,
	})
	return s
}

// Reject makes the relay refuse published events with reason. An empty
// reason accepts them again.
func (s *Server) Reject(reason string) {
	s.mx.Lock()
	s.reject = reason
	s.mx.Unlock()
}

// Add stores events as if published and pushes them to matching
// subscriptions.
func (s *Server) Add(evs ...*nostr.Event) {
	for _, ev := range evs {
		s.store(ev)
	}
}

// Push delivers ev to matching subscriptions without storing it.
func (s *Server) Push(ev *nostr.Event) {
	s.mx.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mx.Unlock()
	for _, c := range conns {
		c.mx.Lock()
		var ids []string
		for id, ff := range c.subs {
			if ff.Match(ev) {
				ids = append(ids, id)
			}
		}
		c.mx.Unlock()
		for _, id := range ids {
			c.send([]any{"EVENT", id, ev})
		}
	}
}

func (s *Server) store(ev *nostr.Event) {
	s.mx.Lock()
	s.events = append(s.events, ev)
	s.mx.Unlock()
	s.Push(ev)
}

// CloseSubscriptions makes the relay answer every REQ with CLOSED and
// reason. An empty reason serves them again.
func (s *Server) CloseSubscriptions(reason string) {
	s.mx.Lock()
	s.closeReq = reason
	s.mx.Unlock()
}

// Published returns the events clients sent, accepted or not.
func (s *Server) Published() []*nostr.Event {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]*nostr.Event(nil), s.published...)
}

// Reqs returns the filters of every REQ received.
func (s *Server) Reqs() []nostr.Filters {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]nostr.Filters(nil), s.reqs...)
}

// Subscriptions counts open subscriptions over all connections.
func (s *Server) Subscriptions() (n int) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for c := range s.conns {
		c.mx.Lock()
		n += len(c.subs)
		c.mx.Unlock()
	}
	return
}

// DropConnections closes every client connection.
func (s *Server) DropConnections() {
	s.mx.Lock()
	defer s.mx.Unlock()
	for c := range s.conns {
		c.ws.Close()
	}
}

func (s *Server) handle(ws *websocket.Conn) {
	c := &conn{ws: ws, subs: make(map[string]nostr.Filters)}
	s.mx.Lock()
	s.conns[c] = struct{}{}
	s.mx.Unlock()
	defer func() {
		s.mx.Lock()
		delete(s.conns, c)
		s.mx.Unlock()
		ws.Close()
	}()
	for {
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(ws, &raw); err != nil {
			return
		}
		if len(raw) < 2 {
			continue
		}
		var label, id string
		json.Unmarshal(raw[0], &label)
		switch label {
		case "EVENT":
			ev := &nostr.Event{}
			if err := json.Unmarshal(raw[1], ev); err != nil {
				c.send([]any{"NOTICE", "bad event"})
				continue
			}
			s.mx.Lock()
			s.published = append(s.published, ev)
			reject := s.reject
			s.mx.Unlock()
			if reject != "" {
				c.send([]any{"OK", ev.ID, false, reject})
				continue
			}
			c.send([]any{"OK", ev.ID, true, ""})
			s.store(ev)
		case "REQ":
			json.Unmarshal(raw[1], &id)
			var ff nostr.Filters
			for _, b := range raw[2:] {
				var f nostr.Filter
				json.Unmarshal(b, &f)
				ff = append(ff, f)
			}
			s.mx.Lock()
			s.reqs = append(s.reqs, ff)
			stored := append([]*nostr.Event(nil), s.events...)
			closeReq := s.closeReq
			s.mx.Unlock()
			if closeReq != "" {
				c.send([]any{"CLOSED", id, closeReq})
				continue
			}
			for _, f := range ff {
				var matched []*nostr.Event
				for _, ev := range stored {
					if f.Matches(ev) {
						matched = append(matched, ev)
					}
				}
				if f.Limit > 0 && len(matched) > f.Limit {
					matched = matched[len(matched)-f.Limit:]
				}
				for _, ev := range matched {
					c.send([]any{"EVENT", id, ev})
				}
			}
			c.send([]any{"EOSE", id})
			c.mx.Lock()
			c.subs[id] = ff
			c.mx.Unlock()
		case "CLOSE":
			json.Unmarshal(raw[1], &id)
			c.mx.Lock()
			delete(c.subs, id)
			c.mx.Unlock()
		}
	}
}
