package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Hubmakerlabs/nsecbox/pkg/bridge"
	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/metrics"
	"github.com/Hubmakerlabs/nsecbox/pkg/msglog"
	"github.com/Hubmakerlabs/nsecbox/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sebest/xff"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sr.status)).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		log.T.F("%s %s %d from %s", r.Method, r.URL.Path, sr.status, xff.GetRemoteAddr(r))
	})
}

func (a *App) allowOrigin(origin string) bool {
	for _, o := range a.Config.Origins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// Router serves the local API: the capability bridge websocket, a small JSON
// API for the inbox, health and metrics.
func (a *App) Router(reg *prometheus.Registry) (http.Handler, *bridge.Server) {
	bs := bridge.NewServer(a.Bridge, a.allowOrigin)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withMetrics)
	limit := a.Config.RateLimit
	if limit <= 0 {
		limit = 600
	}
	r.Use(httprate.LimitByIP(limit, time.Minute))
	r.Use(cors.New(cors.Options{
		// no configured origins means no browser access at all
		AllowOriginFunc: a.allowOrigin,
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:  []string{"Content-Type", "X-Request-Id"},
		MaxAge:          300,
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Handle("/bridge", bs)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/status", a.handleStatus)
		r.Get("/messages", a.handleMessages)
		r.Get("/contacts", a.handleContacts)
		r.Post("/send", a.handleSend)
		r.Post("/login", a.handleLogin)
		r.Delete("/login", a.handleLogout)
	})
	return r, bs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	chk.D(json.NewEncoder(w).Encode(v))
}

// writeErr maps an error kind to a status. A missing identity wins over the
// send or connection error wrapping it.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrNoIdentity):
		status = http.StatusUnauthorized
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrSend), errors.Is(err, errs.ErrConnection):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statusResponse struct {
	Pubkey    string `json:"pubkey,omitempty"`
	Relay     string `json:"relay"`
	State     string `json:"state"`
	Listening bool   `json:"listening"`
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := statusResponse{Relay: a.Config.Relay, State: a.Relay.State().String()}
	st.Pubkey, _ = a.Crypto.PublicKey(r.Context())
	st.Listening = a.Subscription() != nil
	writeJSON(w, http.StatusOK, st)
}

func (a *App) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.Log.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []msglog.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *App) handleContacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Contacts.List())
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (a *App) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.New(errs.ErrValidation, "send", "bad request body: %v", err))
		return
	}
	ev, err := a.Send(r.Context(), req.To, req.Message)
	if ev == nil && err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type loginRequest struct {
	Key string `json:"key"`
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.New(errs.ErrValidation, "login", "bad request body: %v", err))
		return
	}
	pk, err := a.Login(r.Context(), req.Key)
	if err != nil {
		writeErr(w, err)
		return
	}
	// going online is best effort; the daemon keeps retrying
	if err = a.Start(r.Context()); err != nil {
		log.W.Ln("login: could not go online:", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"pubkey": pk})
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.Logout(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Serve runs the local API on ln until c is done, keeping the direct message
// subscription alive across relay disconnects.
func (a *App) Serve(c context.Context, ln net.Listener) (err error) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	h, bs := a.Router(reg)
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go a.keepAlive(c)
	go func() {
		<-c.Done()
		sc, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		chk.E(srv.Shutdown(sc))
		bs.Close()
	}()
	log.I.Ln("listening on", ln.Addr())
	if err = srv.Serve(ln); errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return
}

// MaxResubscribeWait caps the growing wait between resubscribe attempts.
const MaxResubscribeWait = 5 * time.Minute

// keepAlive resubscribes after the relay connection drops. Subscriptions are
// not restored by the session itself. Every attempt is preceded by a wait
// that doubles while subscriptions keep failing, and an identity the relay
// refused (auth-required: or restricted:) is not retried until a new
// subscription is opened for it by a login.
func (a *App) keepAlive(c context.Context) {
	base := a.Config.Backoff.Duration
	if base <= 0 {
		base = session.DefaultBackoff
	}
	wait := base
	var refused string
	var seen *session.Sub
	var since time.Time
	sleep := func(d time.Duration) bool {
		select {
		case <-c.Done():
			return false
		case <-time.After(d):
			return true
		}
	}
	for {
		sub := a.Subscription()
		if sub != nil && sub != seen {
			seen, since, refused = sub, time.Now(), ""
		}
		var done <-chan struct{}
		if sub != nil {
			done = sub.Done()
		}
		select {
		case <-c.Done():
			return
		case <-done:
			if sub.Err() == nil {
				// closed on purpose: logout or a new login
				if a.Subscription() == sub && !sleep(base) {
					return
				}
				continue
			}
			if time.Since(since) > MaxResubscribeWait {
				wait = base
			}
			if sub.Refused() {
				refused, _ = a.Crypto.PublicKey(c)
				log.E.Ln("relay refused the direct message subscription, not retrying:",
					errs.Reason(sub.Err()))
				a.drop(sub)
				continue
			}
			log.W.Ln("direct message subscription lost:", errs.Reason(sub.Err()))
			a.drop(sub)
		case <-time.After(base * 5):
			if sub != nil {
				continue
			}
		}
		pk, err := a.Crypto.PublicKey(c)
		if err != nil || pk == refused {
			continue
		}
		if !sleep(wait) {
			return
		}
		if wait = wait * 2; wait > MaxResubscribeWait {
			wait = MaxResubscribeWait
		}
		if err = a.Start(c); err != nil {
			log.W.Ln("reconnect failed:", errs.Reason(err))
		}
	}
}

// drop forgets sub when it is still the current subscription.
func (a *App) drop(sub *session.Sub) {
	a.mx.Lock()
	if a.sub == sub {
		a.sub, a.me = nil, ""
	}
	a.mx.Unlock()
}
