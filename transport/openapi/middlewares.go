package openapi

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/gorilla/mux"
	"github.com/stratabase/strata/errors"
	"golang.org/x/time/rate"
)

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the request logger.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New(errors.Internal, "response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (o *OpenAPIServer) loggerWare() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			o.logger.Debug(r.Context(), "request completed", map[string]any{
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  recorder.status,
				"elapsed": time.Since(started).String(),
			})
		})
	}
}

func (o *OpenAPIServer) rateLimitWare() mux.MiddlewareFunc {
	burst := int(o.params.RateLimit)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(o.params.RateLimit), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				respondError(w, time.Now(), errors.New(errors.Code(http.StatusTooManyRequests), "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (o *OpenAPIServer) openAPIValidator() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := o.openapiRouter.FindRoute(r)
			if err != nil {
				respondError(w, time.Now(), errors.New(errors.NotFound, "no route for %s %s", r.Method, r.URL.Path))
				return
			}
			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				respondError(w, time.Now(), errors.Wrap(err, errors.BadInput, "request failed validation"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
