// Package server wires the router, rate limiter, and metrics middleware
// into one net/http listener per Config.listen entry, bounding in-flight
// requests per listener with a weighted semaphore.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/matrixkeep/homeserver/internal/handlers"
	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/metrics"
	"github.com/matrixkeep/homeserver/internal/obslog"
	"github.com/matrixkeep/homeserver/internal/ratelimit"
	"github.com/matrixkeep/homeserver/internal/router"
	"github.com/matrixkeep/homeserver/internal/schema"
)

// Server owns one net/http.Server per configured listener, all sharing the
// same routing Tree and rate limiter.
type Server struct {
	log     *obslog.Logger
	limiter *ratelimit.Limiter
	tree    *router.Tree
	httpSrv []*listener
}

type listener struct {
	srv      *http.Server
	certFile string
	keyFile  string
}

// New builds a Server from deps' wired handlers and cfg's listen entries.
// limiter may be nil to disable rate limiting (tests).
func New(deps *handlers.Deps, cfg *schema.Config, limiter *ratelimit.Limiter, log *obslog.Logger) *Server {
	s := &Server{log: log, limiter: limiter, tree: deps.Routes()}

	for _, l := range cfg.Listen {
		sem := semaphore.NewWeighted(int64(maxInt(int(l.MaxConnections), 1)))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/", s.middleware(sem))

		hsrv := &http.Server{
			Addr:         fmt.Sprintf(":%d", l.Port),
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		ln := &listener{srv: hsrv}
		if l.TLS != nil {
			hsrv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			ln.certFile = l.TLS.Cert
			ln.keyFile = l.TLS.Key
		}
		s.httpSrv = append(s.httpSrv, ln)
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// middleware wraps the routing Tree with a request-id stamp, rate
// limiting, the semaphore-bounded worker cap, and Prometheus request
// metrics, in that order.
func (s *Server) middleware(sem *semaphore.Weighted) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)

		if s.limiter != nil && !s.limiter.Allow(ratelimit.RemoteAddr(r)) {
			metrics.RecordRateLimited()
			merror.New(merror.LimitExceeded).WithStatus(http.StatusTooManyRequests).Write(w)
			return
		}

		if !sem.TryAcquire(1) {
			merror.New(merror.Unknown, "server busy").WithStatus(http.StatusServiceUnavailable).Write(w)
			return
		}
		defer sem.Release(1)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		if !s.tree.Route(sw, r, r.URL.Path) {
			merror.New(merror.NotFound, "unrecognized endpoint").WithStatus(http.StatusNotFound).Write(sw)
		}
		metrics.RecordRequest(r.URL.Path, statusClass(sw.status), time.Since(start).Seconds())
	})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Start runs every listener's ListenAndServe(TLS) in its own goroutine,
// logging and dropping any that fail to bind; it does not block.
func (s *Server) Start() {
	for i, ln := range s.httpSrv {
		ln := ln
		idx := i
		go func() {
			var err error
			if ln.srv.TLSConfig != nil {
				err = ln.srv.ListenAndServeTLS(ln.certFile, ln.keyFile)
			} else {
				err = ln.srv.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				s.log.Error("server: listener exited", "index", idx, "addr", ln.srv.Addr, "error", err)
			}
		}()
	}
}

// Stop gracefully shuts down every listener, giving each up to ctx's
// deadline to drain in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	var firstErr error
	for _, ln := range s.httpSrv {
		if err := ln.srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
