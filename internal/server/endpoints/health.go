package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/svcctx"
	"github.com/jackzampolin/sift/version"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	Ledger string `json:"ledger,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) NeedsServices() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) NeedsServices() bool { return false }

func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Ledger: "ok"}

	l := svcctx.LedgerFrom(r.Context())
	if l == nil {
		resp.Status = "degraded"
		resp.Ledger = "not_initialized"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if err := l.Store().Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Ledger = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes the usage ledger)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			if resp.Ledger != "" {
				fmt.Printf("Ledger: %s\n", resp.Ledger)
			}
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server    string                   `json:"server"`
	Version   string                   `json:"version"`
	Defaults  DefaultsStatus           `json:"defaults"`
	Providers []providers.ProviderInfo `json:"providers"`
	Ledger    LedgerStatus             `json:"ledger"`
	Cache     CacheStatus              `json:"cache"`
}

// DefaultsStatus shows the provider and model used when a request names none.
type DefaultsStatus struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Context  string `json:"context"`
	Review   bool   `json:"review"`
}

// LedgerStatus shows the usage ledger database.
type LedgerStatus struct {
	Driver        string `json:"driver,omitempty"`
	Health        string `json:"health"`
	SchemaVersion int64  `json:"schema_version,omitempty"`
}

// CacheStatus shows the result cache.
type CacheStatus struct {
	Enabled bool   `json:"enabled"`
	Health  string `json:"health,omitempty"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) NeedsServices() bool { return false }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := svcctx.ConfigFrom(ctx)
	resp := StatusResponse{
		Server:  "running",
		Version: version.GitRelease,
		Defaults: DefaultsStatus{
			Provider: cfg.Defaults.Provider,
			Model:    cfg.Defaults.Model,
			Context:  cfg.Defaults.Context,
			Review:   cfg.Defaults.Review,
		},
		Providers: []providers.ProviderInfo{},
	}

	if registry := svcctx.RegistryFrom(ctx); registry != nil {
		resp.Providers = registry.List()
	}

	if l := svcctx.LedgerFrom(ctx); l != nil {
		resp.Ledger.Driver = l.Store().Driver()
		if err := l.Store().Ping(ctx); err != nil {
			resp.Ledger.Health = "unhealthy"
		} else {
			resp.Ledger.Health = "healthy"
			if v, err := l.Store().Version(ctx); err == nil {
				resp.Ledger.SchemaVersion = v
			}
		}
	} else {
		resp.Ledger.Health = "not_initialized"
	}

	if c := svcctx.CacheFrom(ctx); c != nil {
		resp.Cache.Enabled = true
		if err := c.Ping(ctx); err != nil {
			resp.Cache.Health = "unhealthy"
		} else {
			resp.Cache.Health = "healthy"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
