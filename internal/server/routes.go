package server

import (
	"net/http"

	"github.com/jackzampolin/sift/internal/svcctx"
)

// Handler returns the HTTP handler serving every registered endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)
	return s.withServices(mux)
}

func (s *Server) currentServices() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
// Before Init only the registry, config and catalog are available.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		services := s.currentServices()
		if services == nil {
			services = &svcctx.Services{
				Registry:      s.registry,
				Schemas:       s.schemas,
				ConfigManager: s.configMgr,
				Logger:        s.logger,
				Home:          s.home,
			}
		}
		next.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the ledger and extractor are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if services := s.currentServices(); services == nil || services.Ledger == nil || services.Extractor == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
