package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPDeps holds dependencies for the HTTP surface.
type HTTPDeps struct {
	MCP     *server.MCPServer
	Metrics prometheus.Gatherer // optional; /metrics is not mounted when nil
	Token   string              // optional bearer token guarding /mcp
	Logger  *slog.Logger
}

// NewHTTPHandler returns a router serving health, metrics and the
// streamable-HTTP MCP transport.
func NewHTTPHandler(deps HTTPDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	if deps.MCP != nil {
		r.Group(func(r chi.Router) {
			if deps.Token != "" {
				r.Use(requireBearer(deps.Token, logger))
			}
			r.Handle("/mcp", server.NewStreamableHTTPServer(deps.MCP))
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
