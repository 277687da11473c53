// Package session owns the single relay connection: connect with a bounded
// retry, subscriptions with per-subscription ordered handlers, acknowledged
// publishing and batched one-shot queries.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/metrics"
	"github.com/Hubmakerlabs/nsecbox/pkg/relay"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/nbd-wtf/go-nostr"
)

var log, chk = slog.New(os.Stderr)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// Dialer opens a relay connection.
type Dialer func(c context.Context, url string) (*relay.Relay, error)

const (
	DefaultAttempts  = 3
	DefaultBackoff   = time.Second
	DefaultBatchSize = 50
)

type Config struct {
	URL string
	// Attempts bounds dials per Connect call.
	Attempts int
	// Backoff is the fixed wait between failed dials.
	Backoff time.Duration
	// BatchSize caps authors or #p values per REQ in Query.
	BatchSize int
	// Dial defaults to relay.Connect.
	Dial Dialer
}

type S struct {
	Config
	// OnDisconnect is called once per lost connection.
	OnDisconnect func(err error)

	connectMx sync.Mutex
	mx        sync.RWMutex
	state     State
	relay     *relay.Relay
}

func New(cfg Config) *S {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Dial == nil {
		cfg.Dial = relay.Connect
	}
	return &S{Config: cfg}
}

func (s *S) State() State {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.state
}

func (s *S) setState(st State) {
	s.mx.Lock()
	s.state = st
	s.mx.Unlock()
}

// Connect dials until one attempt succeeds or the attempt budget is spent.
// It does nothing when already connected.
func (s *S) Connect(c context.Context) (err error) {
	s.connectMx.Lock()
	defer s.connectMx.Unlock()
	if s.State() == Connected {
		return
	}
	s.setState(Connecting)
	for attempt := 1; attempt <= s.Attempts; attempt++ {
		var r *relay.Relay
		if r, err = s.Dial(c, s.URL); err == nil {
			metrics.RelayConnectAttemptsTotal.WithLabelValues("ok").Inc()
			s.mx.Lock()
			s.relay, s.state = r, Connected
			s.mx.Unlock()
			go s.watch(r)
			log.I.F("connected to %s (attempt %d)", s.URL, attempt)
			return
		}
		metrics.RelayConnectAttemptsTotal.WithLabelValues("error").Inc()
		log.W.F("connection attempt %d/%d to %s failed: %v", attempt, s.Attempts, s.URL, err)
		if attempt == s.Attempts {
			break
		}
		select {
		case <-time.After(s.Backoff):
		case <-c.Done():
			s.setState(Disconnected)
			return errs.Wrap(errs.ErrConnection, "connect", c.Err())
		}
	}
	s.setState(Disconnected)
	return &errs.Error{
		Kind:   errs.ErrConnection,
		Op:     "connect",
		Reason: fmt.Sprintf("%s unreachable after %d attempts", s.URL, s.Attempts),
		Err:    err,
	}
}

func (s *S) watch(r *relay.Relay) {
	<-r.Done()
	s.mx.Lock()
	current := s.relay == r
	if current {
		s.relay, s.state = nil, Disconnected
	}
	s.mx.Unlock()
	if !current {
		return
	}
	err := errs.Wrap(errs.ErrConnection, "relay "+s.URL, r.Err())
	if err == nil {
		err = errs.New(errs.ErrConnection, "relay "+s.URL, "closed")
	}
	log.W.Ln("lost connection:", err)
	if s.OnDisconnect != nil {
		s.OnDisconnect(err)
	}
}

func (s *S) conn(op string) (*relay.Relay, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.state != Connected || s.relay == nil {
		return nil, errs.New(errs.ErrConnection, op, "not connected to %s", s.URL)
	}
	return s.relay, nil
}

// Publish sends ev and waits for the relay to accept it. It is never retried
// here.
func (s *S) Publish(c context.Context, ev *nostr.Event) (err error) {
	var r *relay.Relay
	if r, err = s.conn("publish"); err != nil {
		return
	}
	err = r.Publish(c, ev)
	metrics.RelayPublishTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return errs.New(errs.ErrSend, "publish", "%s: %v", s.URL, err)
	}
	log.D.F("published %s to %s", ev.ID, s.URL)
	return
}

// Query fetches stored events matching f, split into batches when the
// author or #p list is longer than BatchSize. Results keep batch order.
func (s *S) Query(c context.Context, f nostr.Filter) (events []*nostr.Event, err error) {
	var r *relay.Relay
	if r, err = s.conn("query"); err != nil {
		return
	}
	for _, b := range Batches(f, s.BatchSize) {
		metrics.RelayQueryBatchesTotal.Inc()
		var evs []*nostr.Event
		if evs, err = r.QuerySync(c, b); err != nil {
			return nil, errs.Wrap(errs.ErrConnection, "query", err)
		}
		events = append(events, evs...)
	}
	return
}

// Close drops the connection. OnDisconnect is not called.
func (s *S) Close() (err error) {
	s.mx.Lock()
	r := s.relay
	s.relay, s.state = nil, Disconnected
	s.mx.Unlock()
	if r != nil {
		err = r.Close()
	}
	return
}

// Batches splits f so that no batch carries more than size authors nor more
// than size #p values. When both lists are long every author batch is paired
// with every #p batch.
func Batches(f nostr.Filter, size int) (out []nostr.Filter) {
	if size <= 0 {
		return []nostr.Filter{f}
	}
	chunks := func(vals []string) (cs [][]string) {
		if len(vals) <= size {
			return [][]string{vals}
		}
		for i := 0; i < len(vals); i += size {
			cs = append(cs, vals[i:min(i+size, len(vals))])
		}
		return
	}
	ps, hasP := f.Tags["p"]
	for _, authors := range chunks(f.Authors) {
		for _, p := range chunks(ps) {
			b := f
			b.Authors = authors
			b.Tags = cloneTags(f.Tags)
			if hasP {
				b.Tags["p"] = p
			}
			out = append(out, b)
		}
	}
	return
}

func cloneTags(t nostr.TagMap) nostr.TagMap {
	if t == nil {
		return nil
	}
	c := make(nostr.TagMap, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}
