package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dgnsrekt/catalog-stream/api"
	"github.com/dgnsrekt/catalog-stream/internal/auth"
	"github.com/dgnsrekt/catalog-stream/internal/store"
	"github.com/dgnsrekt/catalog-stream/internal/stream"
)

// Options configures the router.
type Options struct {
	Streams   *stream.Handler
	Registry  *stream.Registry
	Validator auth.Validator
	// AllowedOrigin is the browser origin allowed by CORS. Empty allows any
	// origin without credentials.
	AllowedOrigin string
}

func NewRouter(opts Options, logger *zap.Logger) (http.Handler, error) {
	// Load OpenAPI spec for validation
	swagger, err := api.Load(context.Background())
	if err != nil {
		return nil, err
	}
	swagger.Servers = nil // Allow any host

	r := chi.NewRouter()

	// Global middleware. No response compression here: streams negotiate
	// their own incremental gzip.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(opts.AllowedOrigin))
	r.Use(zapLoggerMiddleware(logger))

	// Non-validated routes
	r.Get("/healthz", healthHandler(opts.Registry))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", openapiHandler)
	r.Get("/docs", swaggerUIHandler)

	// Stream routes with OpenAPI validation. The bearer security requirement
	// runs before any stream work starts.
	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(oapimiddleware.OapiRequestValidatorWithOptions(swagger, &oapimiddleware.Options{
			Options: openapi3filter.Options{
				AuthenticationFunc: auth.OpenAPIAuthenticator(opts.Validator, logger),
			},
			ErrorHandler: validationErrorHandler,
		}))

		apiRouter.Get("/products/stream", opts.Streams.Stream(store.Items))
		apiRouter.Get("/items/stream", opts.Streams.Stream(store.Items))
		apiRouter.Get("/orders/stream", opts.Streams.Stream(store.Orders))
	})

	return r, nil
}

func validationErrorHandler(w http.ResponseWriter, message string, statusCode int) {
	status, detail := auth.Rejection(message, statusCode)
	auth.WriteError(w, status, detail)
}

type healthResponse struct {
	Status      string         `json:"status"`
	Subscribers map[string]int `json:"subscribers"`
}

func healthHandler(registry *stream.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Subscribers: make(map[string]int)}
		for _, kind := range store.Kinds() {
			resp.Subscribers[kind.Event()] = registry.Subscribers(kind)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func corsMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	allowedOrigin = strings.TrimRight(allowedOrigin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowedOrigin == "":
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && strings.EqualFold(origin, allowedOrigin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("authorization", maskAuthorization(r.Header.Get("Authorization"))),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// maskAuthorization keeps the scheme and the first 4 characters of the
// credential.
func maskAuthorization(header string) string {
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found {
		token, scheme = scheme, ""
	}
	if len(token) > 4 {
		token = token[:4] + "****"
	} else {
		token = "****"
	}
	if scheme == "" {
		return token
	}
	return scheme + " " + token
}

func openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(api.OpenAPISpec)
}

func swaggerUIHandler(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Catalog Stream API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.10.3/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.3/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: "/openapi.yaml",
                dom_id: '#swagger-ui',
            });
        };
    </script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(html))
}
