package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wolfman30/dermassist/internal/diagnosis"
	"github.com/wolfman30/dermassist/pkg/logging"
)

const healthTimeout = 3 * time.Second

// HealthChecker probes the diagnosis backend.
type HealthChecker interface {
	Health(ctx context.Context) (*diagnosis.HealthStatus, error)
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Backend *diagnosis.HealthStatus `json:"backend,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// healthHandler always answers 200 while this process is serving; an
// unreachable or unready backend is reported as "degraded".
func healthHandler(backend HealthChecker, logger *logging.Logger) http.HandlerFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if backend != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			status, err := backend.Health(ctx)
			switch {
			case err != nil:
				logger.Warn("backend health check failed", "error", err)
				resp.Status = "degraded"
				resp.Error = "diagnosis backend unreachable"
			case !status.Healthy():
				resp.Status = "degraded"
				resp.Backend = status
			default:
				resp.Backend = status
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
