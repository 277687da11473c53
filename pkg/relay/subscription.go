package relay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"
)

// EventBuffer is the capacity of Subscription.Events.
const EventBuffer = 64

var subscriptionIDCounter atomic.Int64

type Subscription struct {
	label   string
	counter int64

	Relay   *Relay
	Filters nostr.Filters

	// Events emits matching events in the order the relay sent them. It is
	// closed when the subscription ends.
	Events chan *nostr.Event
	mu     sync.Mutex

	// EndOfStoredEvents is closed when the relay sends EOSE.
	EndOfStoredEvents chan struct{}
	// ClosedReason gets the reason of a relay side CLOSED.
	ClosedReason chan string

	// Context is done when the subscription ends.
	Context context.Context
	cancel  context.CancelFunc

	live   atomic.Bool
	eosed  atomic.Bool
	closed atomic.Bool
}

// SubscriptionOption configures a subscription.
type SubscriptionOption interface {
	IsSubscriptionOption()
}

// WithLabel is prepended to the subscription id sent to the relay.
type WithLabel string

func (WithLabel) IsSubscriptionOption() {}

var _ SubscriptionOption = WithLabel("")

// GetID returns the subscription id sent to the relay.
func (sub *Subscription) GetID() string {
	return sub.label + ":" + strconv.FormatInt(sub.counter, 10)
}

func (sub *Subscription) start() {
	<-sub.Context.Done()
	sub.Unsub()
	// under mu so that DispatchEvent never sends on a closed channel
	sub.mu.Lock()
	close(sub.Events)
	sub.mu.Unlock()
}

// DispatchEvent delivers ev, blocking while the buffer is full so that order
// is kept.
func (sub *Subscription) DispatchEvent(ev *nostr.Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.live.Load() {
		return
	}
	select {
	case sub.Events <- ev:
	case <-sub.Context.Done():
	}
}

func (sub *Subscription) DispatchEose() {
	if sub.eosed.CompareAndSwap(false, true) {
		close(sub.EndOfStoredEvents)
	}
}

// DispatchClosed ends the subscription at the relay's request.
func (sub *Subscription) DispatchClosed(reason string) {
	if sub.closed.CompareAndSwap(false, true) {
		log.D.F("{%s} subscription %s closed by relay: %s", sub.Relay.URL, sub.GetID(), reason)
		sub.ClosedReason <- reason
		// the relay already forgot it, no CLOSE needed
		sub.live.Store(false)
		sub.cancel()
	}
}

// Unsub ends the subscription, sending CLOSE if the relay still has it.
func (sub *Subscription) Unsub() {
	sub.cancel()
	if sub.live.CompareAndSwap(true, false) {
		sub.Close()
	}
	sub.Relay.Subscriptions.Delete(sub.GetID())
}

// Close sends CLOSE. Use Unsub to end a subscription.
func (sub *Subscription) Close() {
	if !sub.Relay.IsConnected() {
		return
	}
	msg, err := closeMessage(sub.GetID())
	if chk.E(err) {
		return
	}
	log.T.F("{%s} sending %s", sub.Relay.URL, msg)
	<-sub.Relay.Write(msg)
}

// Fire sends the REQ.
func (sub *Subscription) Fire() (err error) {
	var msg []byte
	if msg, err = reqMessage(sub.GetID(), sub.Filters); chk.E(err) {
		return
	}
	log.T.F("{%s} sending %s", sub.Relay.URL, msg)
	sub.live.Store(true)
	if err = <-sub.Relay.Write(msg); err != nil {
		sub.cancel()
		return fmt.Errorf("failed to write: %w", err)
	}
	return
}
