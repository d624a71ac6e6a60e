package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPServer exposes the aggregates of a Receiver
type HTTPServer struct {
	receiver *Receiver
	server   *http.Server
	debug    bool
}

// NewHTTPServer creates the stats endpoint. With debug set every request is logged.
func NewHTTPServer(addr string, receiver *Receiver, debug bool) *HTTPServer {
	s := &HTTPServer{
		receiver: receiver,
		debug:    debug,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the mux serving /metrics, /stats and /healthz
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		if s.debug {
			return loggerMiddleware(h)
		}
		return h
	}

	mux.HandleFunc("GET /metrics", wrap(s.handleMetrics))
	mux.HandleFunc("GET /stats", wrap(s.handleStats))
	mux.HandleFunc("GET /healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	return mux
}

// ListenAndServe serves until ctx is cancelled
func (s *HTTPServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on an existing listener until ctx is cancelled
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	Logger.Infof("Starting stats server on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	Logger.Infof("stats server stopped")
	return nil
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.receiver.WritePrometheus(w)
}

// statsResponse is the body of GET /stats
type statsResponse struct {
	Processed      uint64     `json:"processed"`
	ActiveSessions int64      `json:"active_sessions"`
	Categories     []Snapshot `json:"categories"`
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Processed:      s.receiver.Processed(),
		ActiveSessions: s.receiver.ActiveSessions(),
		Categories:     s.receiver.Snapshots(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode stats", http.StatusInternalServerError)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware logs every request with its status and duration
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
