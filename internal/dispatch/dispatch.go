// Package dispatch matches incoming HTTP requests against the live Route
// Table, binds them into gRPC calls, and translates replies and errors back
// to HTTP (spec §4.6).
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/anthony/grpc-rest-gateway/internal/codec"
	"github.com/anthony/grpc-rest-gateway/internal/router"
	"github.com/anthony/grpc-rest-gateway/internal/session"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultTimeout = 30 * time.Second

// Dispatcher is the http.Handler for every dynamically synthesized route.
type Dispatcher struct {
	routes  *router.Publisher
	backend *session.Backend
	logger  *zap.Logger

	// fallback handles any request that does not match a synthesized
	// route (the embedded swagger UI's static assets), rather than
	// claiming "/" for itself and colliding with the mux registration.
	fallback http.Handler

	shuttingDown atomic.Bool
}

// New builds a Dispatcher reading from routes and invoking RPCs through
// backend.
func New(routes *router.Publisher, backend *session.Backend, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{routes: routes, backend: backend, logger: logger}
}

// SetFallback registers the handler invoked for requests that match no
// synthesized route, instead of a plain 404.
func (d *Dispatcher) SetFallback(h http.Handler) {
	d.fallback = h
}

// BeginShutdown makes every subsequent request fail fast with 503, per the
// ShutdownInProgress error class (spec §7).
func (d *Dispatcher) BeginShutdown() {
	d.shuttingDown.Store(true)
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d.shuttingDown.Load() {
		writeErrorText(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	table := d.routes.Load()
	if table == nil {
		d.serveFallback(w, r)
		return
	}
	route, vars, ok := table.Match(r.Method, r.URL.Path)
	if !ok {
		d.serveFallback(w, r)
		return
	}

	schema := d.backend.Current()
	if schema == nil {
		writeErrorText(w, http.StatusServiceUnavailable, "backend schema not yet available")
		return
	}
	md, ok := schema.Methods[route.FullMethod]
	if !ok {
		// The published Route Table briefly outran a rebuild in progress.
		writeErrorText(w, http.StatusServiceUnavailable, "backend schema is being rebuilt")
		return
	}

	var body []byte
	if route.Body != "" {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			writeErrorText(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		body = b
	}

	ctx, cancel := withDeadline(r)
	defer cancel()

	reqMsg, err := codec.Decode(md.GetInputType(), codec.Input{
		PathVars:     vars,
		Query:        r.URL.Query(),
		Body:         body,
		BodySelector: route.Body,
	})
	if err != nil {
		writeErrorText(w, http.StatusBadRequest, err.Error())
		return
	}

	respMsg, err := d.backend.Invoke(ctx, route.FullMethod, reqMsg)
	if err != nil {
		d.writeBackendError(w, err)
		return
	}

	out, err := codec.Encode(respMsg)
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (d *Dispatcher) serveFallback(w http.ResponseWriter, r *http.Request) {
	if d.fallback != nil {
		d.fallback.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

// withDeadline applies the default 30s budget unless the client overrides
// it via X-Request-Timeout-Ms (spec §5).
func withDeadline(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := defaultTimeout
	if raw := r.Header.Get("X-Request-Timeout-Ms"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}
	return context.WithTimeout(r.Context(), timeout)
}

// writeBackendError maps a gRPC status error to the HTTP status table of
// spec §4.6.
func (d *Dispatcher) writeBackendError(w http.ResponseWriter, err error) {
	var unavailable *session.UnavailableError
	if errors.As(err, &unavailable) {
		writeErrorText(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	st, ok := status.FromError(err)
	if !ok {
		writeErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch st.Code() {
	case codes.OK:
		w.WriteHeader(http.StatusOK)
	case codes.InvalidArgument:
		writeErrorText(w, http.StatusBadRequest, st.Message())
	case codes.Unauthenticated:
		writeErrorText(w, http.StatusUnauthorized, st.Message())
	case codes.PermissionDenied:
		writeErrorText(w, http.StatusForbidden, st.Message())
	case codes.NotFound:
		writeErrorText(w, http.StatusNotFound, st.Message())
	case codes.AlreadyExists:
		writeErrorText(w, http.StatusConflict, st.Message())
	case codes.DeadlineExceeded:
		writeErrorText(w, http.StatusGatewayTimeout, st.Message())
	case codes.Unavailable:
		writeErrorText(w, http.StatusServiceUnavailable, st.Message())
	default:
		writeErrorJSON(w, http.StatusInternalServerError, st.Message())
	}
}

func writeErrorText(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	io.WriteString(w, body)
}

func writeErrorJSON(w http.ResponseWriter, statusCode int, specificError string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":          "Internal Server Error",
		"specific_error": specificError,
	})
}
