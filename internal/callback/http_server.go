// Package callback hosts the two out-of-band listeners a target can reach
// back to — HTTP and DNS — and records whatever hits them against the
// store. Both servers respond identically regardless of whether the
// correlation id they were sent is one ricochet issued, so a target
// fingerprinting the scanner by response shape learns nothing (spec.md
// §4.4).
package callback

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ricochet.sh/internal/correlation"
	"ricochet.sh/internal/ferrors"
	"ricochet.sh/internal/metrics"
	"ricochet.sh/internal/middleware"
	"ricochet.sh/internal/observability"
	"ricochet.sh/internal/store"
)

// maxCallbackBodyBytes bounds how much of an inbound callback body is read,
// protecting the listener from an oversized POST used as a resource
// exhaustion vector.
const maxCallbackBodyBytes = 1 << 20 // 1 MiB

// HTTPServer is the out-of-band HTTP callback listener.
type HTTPServer struct {
	store  *store.Store
	logger *observability.Logger
	srv    *http.Server
}

// NewHTTPServer constructs a callback server bound to addr (host:port).
func NewHTTPServer(addr string, st *store.Store, logger *observability.Logger, readTimeout, writeTimeout time.Duration) *HTTPServer {
	h := &HTTPServer{store: st, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handle)
	h.srv = &http.Server{
		Addr:         addr,
		Handler:      middleware.RequestIDMiddleware(h.logAccess(mux)),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return h
}

// logAccess wraps next so every callback request is logged with its
// request id, status, and response size, regardless of whether the path
// resolved to a known correlation id.
func (h *HTTPServer) logAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := middleware.NewResponseWriter(w)
		start := time.Now()
		next.ServeHTTP(rw, r)
		requestID, _ := r.Context().Value(middleware.RequestIDKey).(string)
		h.logger.Debug("HTTP callback request handled",
			zap.String("request_id", requestID),
			zap.Int("status", rw.StatusCode()),
			zap.Int("bytes", rw.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// ListenAndServe blocks serving callbacks until the server is shut down.
func (h *HTTPServer) ListenAndServe() error {
	err := h.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

func (h *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	correlationID := extractCorrelationID(r.URL.Path)
	sourceIP := clientIP(r)

	var body []byte
	if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		body = readBody(r)
	}

	if correlationID != "" {
		headers := flattenHeaders(r.Header)
		recorded, err := h.store.RecordCallback(r.Context(), correlationID, sourceIP, r.URL.Path, headers, body)
		switch {
		case err != nil:
			h.logger.WithError(err).Error("failed to record HTTP callback")
			metrics.RecordError("callback_http", string(ferrors.GetCode(err)))
		case recorded:
			h.logger.WithCallback("HTTP", sourceIP, correlationID).Info("recorded callback")
			metrics.RecordCallback("HTTP", true, time.Since(start).Seconds())
		default:
			h.logger.WithCallback("HTTP", sourceIP, correlationID).Debug("callback for unknown correlation id")
			metrics.RecordCallback("HTTP", false, time.Since(start).Seconds())
		}
	} else {
		h.logger.Debug("HTTP callback request with no correlation id", zap.String("path", r.URL.Path))
		metrics.RecordCallback("HTTP", false, time.Since(start).Seconds())
	}

	// Invariant response: identical bytes whether or not a correlation id
	// was found, so the response itself cannot be used to enumerate live
	// correlation ids.
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", "2")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// extractCorrelationID takes the last non-empty path segment and validates
// it as a correlation id.
func extractCorrelationID(path string) string {
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == "" {
			continue
		}
		if correlation.Valid(segments[i]) {
			return segments[i]
		}
		return ""
	}
	return ""
}

func readBody(r *http.Request) []byte {
	limited := io.LimitReader(r.Body, maxCallbackBodyBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil
	}
	return data
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		return host[:idx]
	}
	return host
}

