// Package scan serves the local endpoint handheld QR readers open after a
// scan. Each request hands the scanned payload to the route flow and
// answers with the next step.
package scan

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/flow"
)

const (
	pruneEvery = 10 * time.Minute
	idleAfter  = 30 * time.Minute
)

// Handler applies one scanned payload
type Handler interface {
	HandleScan(ctx context.Context, raw string) (*flow.Outcome, error)
}

// Config for the listener
type Config struct {
	Listen string
	Rate   float64
	Burst  int
}

// Response is the JSON body of every /scan answer
type Response struct {
	Step     string `json:"step,omitempty"`
	Path     string `json:"path,omitempty"`
	RouteID  string `json:"route_id,omitempty"`
	Notice   string `json:"notice,omitempty"`
	Applied  bool   `json:"applied"`
	Deferred bool   `json:"deferred,omitempty"`
	Pending  bool   `json:"pending,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Server is the scan listener
type Server struct {
	config  Config
	handler Handler
	limiter *RateLimiter
	log     *logrus.Logger
}

func NewServer(config Config, handler Handler, log *logrus.Logger) *Server {
	return &Server{
		config:  config,
		handler: handler,
		limiter: NewRateLimiter(config.Rate, config.Burst),
		log:     log,
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(s.limiter.Middleware).Get("/scan", s.handleScan)
	return r
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.config.Listen).Info("scan listener started")
		errCh <- srv.ListenAndServe()
	}()

	ticker := time.NewTicker(pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errors.Wrap(err, "scan listener")
		case <-ticker.C:
			if n := s.limiter.Prune(idleAfter); n > 0 {
				s.log.WithField("clients", n).Debug("pruned idle scan clients")
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errors.Wrap(err, "shutdown scan listener")
			}
			s.log.Info("scan listener stopped")
			return nil
		}
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	raw := scannedPayload(r)
	out, err := s.handler.HandleScan(r.Context(), raw)
	if err != nil {
		status, resp := errorResponse(err)
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"status":     status,
		}).Info("scan refused")
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Step:     out.Step.String(),
		Path:     out.Step.Path(),
		RouteID:  out.RouteID,
		Notice:   out.Notice,
		Applied:  out.Applied,
		Deferred: out.Deferred,
		Pending:  out.Pending,
	})
}

// scannedPayload returns the QR text. Readers either open the label URL
// itself or wrap it in a payload or code parameter.
func scannedPayload(r *http.Request) string {
	q := r.URL.Query()
	for _, key := range []string{"payload", "code"} {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return r.URL.RequestURI()
}

func errorResponse(err error) (int, Response) {
	var verr *flow.ValidationError
	var conflict *flow.ConflictError
	var rejected *cloud.RejectedError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, Response{Reason: string(verr.Reason), Error: verr.Error()}
	case errors.Is(err, cloud.ErrAuthExpired):
		return http.StatusUnauthorized, Response{Step: flow.StepLogin.String(), Path: flow.StepLogin.Path(), Error: "session expired, log in again"}
	case errors.As(err, &conflict):
		return http.StatusConflict, Response{Reason: "route_conflict", Error: conflict.Error()}
	case errors.As(err, &rejected):
		return http.StatusConflict, Response{Reason: "rejected", Error: rejected.Message}
	}
	return http.StatusBadGateway, Response{Error: err.Error()}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"remote":     r.RemoteAddr,
			"duration":   time.Since(start).String(),
		}).Debug("scan request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
