package stream

import (
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/catalog-stream/internal/compress"
	"github.com/dgnsrekt/catalog-stream/internal/store"
)

// Handler serves the SSE stream endpoints.
type Handler struct {
	registry  *Registry
	sources   map[store.Kind]Snapshotter
	cfg       SessionConfig
	gzipLevel int
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewHandler creates a handler streaming from the given per-kind sources.
func NewHandler(
	registry *Registry,
	sources map[store.Kind]Snapshotter,
	cfg SessionConfig,
	gzipLevel int,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		registry:  registry,
		sources:   sources,
		cfg:       cfg,
		gzipLevel: gzipLevel,
		clock:     clock,
		logger:    logger,
	}
}

// Stream returns the endpoint for kind. Authentication is applied by the
// router before this handler runs.
func (h *Handler) Stream(kind store.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source, ok := h.sources[kind]
		if !ok {
			http.Error(w, "unknown stream", http.StatusNotFound)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		useGzip := AcceptsGzip(r.Header.Get("Accept-Encoding"))
		out, err := compress.New(w, flusher, useGzip, h.gzipLevel)
		if err != nil {
			h.logger.Error("creating stream writer failed", zap.Error(err))
			http.Error(w, "stream setup failed", http.StatusInternalServerError)
			return
		}

		header := w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache, no-transform")
		header.Set("Connection", "keep-alive")
		header.Set("Transfer-Encoding", "chunked")
		header.Set("X-Accel-Buffering", "no")
		if enc := out.Encoding(); enc != "" {
			header.Set("Content-Encoding", enc)
			header.Add("Vary", "Accept-Encoding")
		}
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		h.logger.Debug("stream opened",
			zap.String("kind", kind.String()),
			zap.Bool("gzip", useGzip),
			zap.String("remote_addr", r.RemoteAddr),
		)

		session := NewSession(kind, h.registry, source, out, h.cfg, h.clock, h.logger)
		session.Run(r.Context())

		if r.Context().Err() == nil {
			if err := out.Close(); err != nil {
				h.logger.Debug("closing stream writer failed", zap.Error(err))
			}
		}
	}
}

// AcceptsGzip reports whether an Accept-Encoding value allows gzip.
func AcceptsGzip(acceptEncoding string) bool {
	for _, part := range strings.Split(acceptEncoding, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		params = strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		if params == "q=0" || params == "q=0.0" || params == "q=0.00" || params == "q=0.000" {
			return false
		}
		return true
	}
	return false
}
