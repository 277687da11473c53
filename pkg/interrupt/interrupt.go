// Package interrupt runs registered shutdown callbacks, newest first, on
// SIGINT/SIGTERM or when a shutdown is requested in code.
package interrupt

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

type handler struct {
	source string
	fn     func()
}

var (
	mx        sync.Mutex
	handlers  []handler
	started   bool
	requested atomic.Bool
	once      sync.Once

	// signals that cause the callbacks to run
	signals = []os.Signal{os.Interrupt, syscall.SIGTERM}

	shutdown = make(chan struct{})
	// HandlersDone is closed once every callback has returned.
	HandlersDone = make(chan struct{})
)

// AddHandler registers fn to run at shutdown. The first call starts the
// signal listener.
func AddHandler(fn func()) {
	_, loc, line, _ := runtime.Caller(1)
	src := fmt.Sprintf("%s:%d", loc, line)
	log.T.Ln("interrupt handler added by", src)
	mx.Lock()
	handlers = append(handlers, handler{src, fn})
	start := !started
	started = true
	mx.Unlock()
	if start {
		go listen()
	}
}

func listen() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)
	select {
	case sig := <-ch:
		log.I.Ln("received signal", sig)
		requested.Store(true)
	case <-shutdown:
		log.I.Ln("shutdown requested")
	}
	run()
}

func run() {
	once.Do(func() {
		mx.Lock()
		hs := append([]handler(nil), handlers...)
		mx.Unlock()
		log.D.Ln("running", len(hs), "interrupt callbacks")
		for i := len(hs) - 1; i >= 0; i-- {
			log.T.Ln("running callback from", hs[i].source)
			hs[i].fn()
		}
		close(HandlersDone)
	})
}

// Request asks for a shutdown as if a signal arrived. Later calls do
// nothing.
func Request() {
	if requested.Swap(true) {
		return
	}
	mx.Lock()
	listening := started
	mx.Unlock()
	if listening {
		close(shutdown)
		return
	}
	run()
}

// Requested reports whether a shutdown has started.
func Requested() bool { return requested.Load() }
