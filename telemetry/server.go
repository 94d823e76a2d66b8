package telemetry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehrlich-b/go-dfu"
)

// statusResponse is the JSON body served at /status
type statusResponse struct {
	State            string `json:"state"`
	ForcedBootloader bool   `json:"forced_bootloader"`

	SessionActive   bool   `json:"session_active"`
	SessionTotal    uint32 `json:"session_total_bytes"`
	SessionReceived uint32 `json:"session_received_bytes"`

	PacketsSubmitted  uint64 `json:"packets_submitted"`
	PacketsProcessed  uint64 `json:"packets_processed"`
	PacketsDropped    uint64 `json:"packets_dropped"`
	QueueDepth        uint32 `json:"queue_depth"`
	ErrorCount        uint64 `json:"error_count"`
	RecoveryAttempts  uint64 `json:"recovery_attempts"`
	AppLaunchAttempts uint64 `json:"app_launch_attempts"`
}

// Handler serves /metrics from the registry and /status from the core the
// provider returns. The provider indirection lets a daemon swap in a fresh
// core per peer session; /status answers 503 while no core is live. The
// status endpoint is a diagnostic view: it reads counters and coarse state
// without pausing the supervisor.
func Handler(reg *prometheus.Registry, provider func() *dfu.Core) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		core := provider()
		if core == nil {
			http.Error(w, "no active core", http.StatusServiceUnavailable)
			return
		}
		stats := core.Stats()
		session := core.Session()
		resp := statusResponse{
			State:             core.State().String(),
			ForcedBootloader:  core.ForcedBootloader(),
			SessionActive:     session.Active,
			SessionTotal:      session.TotalSize,
			SessionReceived:   session.BytesReceived,
			PacketsSubmitted:  stats.PacketsSubmitted,
			PacketsProcessed:  stats.PacketsProcessed,
			PacketsDropped:    stats.PacketsDropped,
			QueueDepth:        stats.QueueDepth,
			ErrorCount:        stats.ErrorCount,
			RecoveryAttempts:  stats.RecoveryAttempts,
			AppLaunchAttempts: stats.AppLaunchAttempts,
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	return r
}
