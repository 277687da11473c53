// Package relay is a nostr relay client over a single websocket: one writer
// goroutine, one reader goroutine, subscriptions and publish acknowledgements
// keyed in concurrent maps.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v2"
)

var log, chk = slog.New(os.Stderr)

var (
	// ErrRejected is wrapped by Publish when the relay answers OK false.
	ErrRejected = errors.New("rejected by relay")
	// ErrClosed is returned for operations on a closed connection.
	ErrClosed = errors.New("connection closed")
)

const (
	DialTimeout    = 7 * time.Second
	PublishTimeout = 4 * time.Second
	QueryTimeout   = 7 * time.Second
	PingPeriod     = 29 * time.Second
)

type Relay struct {
	closeMutex sync.Mutex

	URL           string
	RequestHeader http.Header

	Connection    *Connection
	Subscriptions *xsync.MapOf[string, *Subscription]

	errMx         sync.Mutex
	connectionErr error

	// connectionContext is canceled when the connection closes.
	connectionContext       context.Context
	connectionContextCancel context.CancelFunc

	okCallbacks *xsync.MapOf[string, func(bool, string)]
	writeQueue  chan writeRequest

	// NoticeHandler receives NOTICE texts. Nil logs them.
	NoticeHandler func(notice string)
	// AssumeValid skips signature checks on inbound events.
	AssumeValid bool
}

type writeRequest struct {
	msg    []byte
	answer chan error
}

// NewRelay returns an unconnected relay. The connection will be closed when
// c is canceled.
func NewRelay(c context.Context, url string) *Relay {
	ctx, cancel := context.WithCancel(c)
	return &Relay{
		URL:                     NormalizeURL(url),
		connectionContext:       ctx,
		connectionContextCancel: cancel,
		Subscriptions:           xsync.NewMapOf[*Subscription](),
		okCallbacks:             xsync.NewMapOf[func(bool, string)](),
		writeQueue:              make(chan writeRequest),
	}
}

// Connect returns a relay connected to url. Cancelling c after it returns has
// no effect; call Close.
func Connect(c context.Context, url string) (r *Relay, err error) {
	r = NewRelay(context.Background(), url)
	if err = r.Connect(c); err != nil {
		r.connectionContextCancel()
		return nil, err
	}
	return
}

func (r *Relay) String() string { return r.URL }

// Context is done when the connection closes.
func (r *Relay) Context() context.Context { return r.connectionContext }

// Done is closed when the connection closes.
func (r *Relay) Done() <-chan struct{} { return r.connectionContext.Done() }

// IsConnected reports whether the connection seems to be alive.
func (r *Relay) IsConnected() bool { return r.connectionContext.Err() == nil }

// Err returns the read error that closed the connection, if any.
func (r *Relay) Err() error {
	r.errMx.Lock()
	defer r.errMx.Unlock()
	return r.connectionErr
}

func (r *Relay) setErr(err error) {
	r.errMx.Lock()
	if r.connectionErr == nil {
		r.connectionErr = err
	}
	r.errMx.Unlock()
}

// Connect dials r.URL. If c has no deadline DialTimeout applies.
func (r *Relay) Connect(c context.Context) (err error) {
	if r.connectionContext == nil || r.Subscriptions == nil {
		return errors.New("relay must be initialized with a call to NewRelay()")
	}
	if r.URL == "" {
		return fmt.Errorf("invalid relay URL '%s'", r.URL)
	}
	if _, ok := c.Deadline(); !ok {
		var cancel context.CancelFunc
		c, cancel = context.WithTimeout(c, DialTimeout)
		defer cancel()
	}
	var conn *Connection
	if conn, err = Dial(c, r.URL, r.RequestHeader); err != nil {
		return fmt.Errorf("error opening websocket to '%s': %w", r.URL, err)
	}
	r.Connection = conn
	log.D.Ln("connected to", r.URL)
	ticker := time.NewTicker(PingPeriod)
	go func() {
		<-r.connectionContext.Done()
		ticker.Stop()
		r.Subscriptions.Range(func(_ string, sub *Subscription) bool {
			go sub.Unsub()
			return true
		})
	}()
	// all writes go through this loop
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.WritePing(); err != nil {
					log.D.F("{%s} error writing ping: %v; closing websocket", r.URL, err)
					r.setErr(err)
					r.Close()
					return
				}
			case wr := <-r.writeQueue:
				if err := conn.WriteMessage(wr.msg); err != nil {
					wr.answer <- err
				}
				close(wr.answer)
			case <-r.connectionContext.Done():
				return
			}
		}
	}()
	go func() {
		buf := new(bytes.Buffer)
		for {
			buf.Reset()
			if err := conn.ReadMessage(r.connectionContext, buf); err != nil {
				r.setErr(err)
				r.Close()
				return
			}
			r.handleMessage(buf.Bytes())
		}
	}()
	return
}

func (r *Relay) handleMessage(message []byte) {
	log.T.F("{%s} received %s", r.URL, message)
	env, err := ParseMessage(message)
	if chk.D(err) {
		return
	}
	switch env.Label {
	case LabelNotice:
		if r.NoticeHandler != nil {
			r.NoticeHandler(env.Reason)
		} else {
			log.I.F("NOTICE from %s: '%s'", r.URL, env.Reason)
		}
	case LabelAuth:
		log.D.F("{%s} ignoring AUTH challenge", r.URL)
	case LabelEvent:
		sub, ok := r.Subscriptions.Load(env.SubscriptionID)
		if !ok {
			log.D.F("{%s} no subscription with id '%s'", r.URL, env.SubscriptionID)
			return
		}
		if !sub.Filters.Match(env.Event) {
			log.D.F("{%s} filter does not match: %v ~ %s", r.URL, sub.Filters, env.Event.ID)
			return
		}
		if !r.AssumeValid {
			if ok, err := env.Event.CheckSignature(); !ok {
				log.D.F("{%s} bad signature on %s; %v", r.URL, env.Event.ID, err)
				return
			}
		}
		sub.DispatchEvent(env.Event)
	case LabelEOSE:
		if sub, ok := r.Subscriptions.Load(env.SubscriptionID); ok {
			sub.DispatchEose()
		}
	case LabelClosed:
		if sub, ok := r.Subscriptions.Load(env.SubscriptionID); ok {
			sub.DispatchClosed(env.Reason)
		}
	case LabelOK:
		if cb, ok := r.okCallbacks.Load(env.EventID); ok {
			cb(env.OK, env.Reason)
		} else {
			log.D.F("{%s} got an unexpected OK message for event %s", r.URL, env.EventID)
		}
	}
}

// Write queues msg for the writer goroutine. The returned channel yields the
// write error, if any, and is then closed.
func (r *Relay) Write(msg []byte) <-chan error {
	ch := make(chan error, 1)
	select {
	case r.writeQueue <- writeRequest{msg: msg, answer: ch}:
	case <-r.connectionContext.Done():
		ch <- ErrClosed
		close(ch)
	}
	return ch
}

// Publish sends ev and waits for the relay's OK. If c has no deadline
// PublishTimeout applies.
func (r *Relay) Publish(c context.Context, ev *nostr.Event) (err error) {
	if _, ok := c.Deadline(); !ok {
		var cancel context.CancelFunc
		c, cancel = context.WithTimeout(c, PublishTimeout)
		defer cancel()
	}
	result := make(chan error, 1)
	r.okCallbacks.Store(ev.ID, func(ok bool, reason string) {
		var res error
		if !ok {
			res = fmt.Errorf("%w: %s", ErrRejected, reason)
		}
		select {
		case result <- res:
		default:
		}
	})
	defer r.okCallbacks.Delete(ev.ID)
	var msg []byte
	if msg, err = eventMessage(ev); chk.E(err) {
		return
	}
	log.T.F("{%s} sending %s", r.URL, msg)
	if err = <-r.Write(msg); err != nil {
		return
	}
	select {
	case err = <-result:
		return
	case <-c.Done():
		return fmt.Errorf("given up waiting for an OK: %w", c.Err())
	case <-r.connectionContext.Done():
		return ErrClosed
	}
}

// Subscribe sends a REQ. Events arrive on sub.Events until c is canceled,
// sub.Unsub is called, the relay closes the subscription or the connection
// drops.
func (r *Relay) Subscribe(c context.Context, filters nostr.Filters, opts ...SubscriptionOption) (*Subscription, error) {
	sub := r.PrepareSubscription(c, filters, opts...)
	if err := sub.Fire(); err != nil {
		return nil, fmt.Errorf("couldn't subscribe to %v at %s: %w", filters, r.URL, err)
	}
	return sub, nil
}

// PrepareSubscription registers a subscription without sending the REQ.
func (r *Relay) PrepareSubscription(c context.Context, filters nostr.Filters, opts ...SubscriptionOption) *Subscription {
	ctx, cancel := context.WithCancel(c)
	sub := &Subscription{
		Relay:             r,
		Context:           ctx,
		cancel:            cancel,
		counter:           subscriptionIDCounter.Add(1),
		Events:            make(chan *nostr.Event, EventBuffer),
		EndOfStoredEvents: make(chan struct{}),
		ClosedReason:      make(chan string, 1),
		Filters:           filters,
	}
	for _, opt := range opts {
		switch o := opt.(type) {
		case WithLabel:
			sub.label = string(o)
		}
	}
	r.Subscriptions.Store(sub.GetID(), sub)
	go sub.start()
	return sub
}

// QuerySync subscribes with f and collects events until EOSE. If c has no
// deadline QueryTimeout applies; a timeout returns what arrived so far.
func (r *Relay) QuerySync(c context.Context, f nostr.Filter, opts ...SubscriptionOption) (events []*nostr.Event, err error) {
	if _, ok := c.Deadline(); !ok {
		var cancel context.CancelFunc
		c, cancel = context.WithTimeout(c, QueryTimeout)
		defer cancel()
	}
	var sub *Subscription
	if sub, err = r.Subscribe(c, nostr.Filters{f}, opts...); err != nil {
		return
	}
	defer sub.Unsub()
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				if !r.IsConnected() {
					err = ErrClosed
				}
				return
			}
			events = append(events, ev)
		case <-sub.EndOfStoredEvents:
			// events before the EOSE are already buffered
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						return
					}
					events = append(events, ev)
				default:
					return
				}
			}
		case <-c.Done():
			log.D.F("{%s} query timed out with %d events", r.URL, len(events))
			return
		}
	}
}

// Close tears the connection down. Calling it again is harmless.
func (r *Relay) Close() error {
	r.closeMutex.Lock()
	defer r.closeMutex.Unlock()
	if r.connectionContextCancel == nil {
		return ErrClosed
	}
	r.connectionContextCancel()
	r.connectionContextCancel = nil
	if r.Connection != nil {
		return r.Connection.Close()
	}
	return nil
}
