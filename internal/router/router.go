package router

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/project"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/realtime"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/task"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/response"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// Hijack lets the websocket upgrade take over the connection.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

type requestIDKey struct{}

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the id assigned by RequestIDMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware keeps an incoming X-Request-ID or assigns a snowflake id.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = utilities.NewRequestID()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Clickjacking protection
			w.Header().Set("X-Frame-Options", "DENY")

			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// the API serves JSON only
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}

			// HSTS - only set if request is over TLS.
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows browser requests from the configured origins and
// answers their preflight requests.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	anyOrigin := false
	for _, o := range origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, ok := allowed[origin]
			if origin != "" && (ok || anyOrigin) {
				h := w.Header()
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
					h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
					h.Set("Access-Control-Max-Age", "86400")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the handlers mounted by RegisterRoutes.
type Deps struct {
	Logger         *zap.SugaredLogger
	Tokens         *auth.TokenService
	Users          *user.Handler
	Projects       *project.Handler
	Tasks          *task.Handler
	Scheduler      *notification.Handler
	Gateway        *realtime.Gateway
	AllowedOrigins []string
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
// REST responses are gzip-compressed; the websocket route is mounted outside
// the compressor because upgrades need the raw connection.
func RegisterRoutes(d Deps) http.Handler {
	api := http.NewServeMux()
	protected := auth.Middleware(d.Tokens, d.Logger)
	guard := func(h http.HandlerFunc) http.Handler { return protected(h) }

	// health
	api.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		response.WriteJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": d.Gateway.Registry().Count(),
		})
	})

	// auth
	api.HandleFunc("POST /api/register/{$}", d.Users.Register)
	api.HandleFunc("POST /api/token/{$}", d.Users.Token)
	api.HandleFunc("POST /api/token/refresh/{$}", d.Users.Refresh)
	api.Handle("GET /api/users/{$}", guard(d.Users.List))

	// projects
	api.Handle("GET /api/projects/{$}", guard(d.Projects.List))
	api.Handle("POST /api/projects/{$}", guard(d.Projects.Create))
	api.Handle("GET /api/projects/{id}/{$}", guard(d.Projects.Get))
	api.Handle("PUT /api/projects/{id}/{$}", guard(d.Projects.Update))
	api.Handle("PATCH /api/projects/{id}/{$}", guard(d.Projects.Patch))
	api.Handle("DELETE /api/projects/{id}/{$}", guard(d.Projects.Delete))
	api.Handle("POST /api/projects/{id}/add_member/{$}", guard(d.Projects.AddMember))
	api.Handle("POST /api/projects/{id}/remove_member/{$}", guard(d.Projects.RemoveMember))
	api.Handle("GET /api/projects/{id}/members/{$}", guard(d.Projects.Members))
	api.Handle("GET /api/projects/{id}/tasks/{$}", guard(d.Tasks.ForProject))

	// tasks
	api.Handle("GET /api/tasks/{$}", guard(d.Tasks.List))
	api.Handle("POST /api/tasks/{$}", guard(d.Tasks.Create))
	api.Handle("GET /api/tasks/my_tasks/{$}", guard(d.Tasks.MyTasks))
	api.Handle("GET /api/tasks/assigned/{$}", guard(d.Tasks.Assigned))
	api.Handle("GET /api/tasks/{id}/{$}", guard(d.Tasks.Get))
	api.Handle("PUT /api/tasks/{id}/{$}", guard(d.Tasks.Update))
	api.Handle("PATCH /api/tasks/{id}/{$}", guard(d.Tasks.Patch))
	api.Handle("DELETE /api/tasks/{id}/{$}", guard(d.Tasks.Delete))
	api.Handle("POST /api/tasks/{id}/assign/{$}", guard(d.Tasks.Assign))
	api.Handle("POST /api/tasks/{id}/remove_assignee/{$}", guard(d.Tasks.RemoveAssignee))

	// external deadline scheduler
	api.HandleFunc("POST /api/scheduler/deadlines/{$}", d.Scheduler.Deadlines)

	root := http.NewServeMux()
	root.Handle("GET /ws/notifications", d.Gateway)
	root.Handle("/", gzhttp.GzipHandler(api))

	// wrap: request id, logging, security headers, CORS
	handler := RequestIDMiddleware()(LoggingMiddleware(d.Logger)(SecurityHeadersMiddleware()(CORSMiddleware(d.AllowedOrigins)(root))))
	return handler
}
