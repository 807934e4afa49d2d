package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes mounts every endpoint on mux. Handlers that need the
// ledger and extractor are wrapped with guard.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, guard func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		_, _, handler := ep.Route()
		if ep.NeedsServices() {
			handler = guard(handler)
		}
		mux.HandleFunc(Pattern(ep), handler)
	}
}

// BuildCommands returns a cobra.Command tree for all registered endpoints.
// Commands named in a group's Members are nested under that group; the rest
// attach to the api root. getServerURL is called at runtime to get the
// server URL.
func (r *Registry) BuildCommands(getServerURL func() string, groups ...Group) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running sift server via HTTP.

These commands require a running server (sift serve).
Use --server to specify a custom server URL.

Examples:
  sift api health                           # Check server health
  sift api status                           # List configured providers
  sift api extract -s person.yaml note.txt  # Run an extraction remotely
  sift api usage --context Extraction       # Token usage by metering key
  sift api calls list --limit 20            # Recent gateway calls`,
	}

	parents := make(map[string]*cobra.Command)
	for _, g := range groups {
		groupCmd := &cobra.Command{Use: g.Use, Short: g.Short}
		for _, name := range g.Members {
			parents[name] = groupCmd
		}
		apiCmd.AddCommand(groupCmd)
	}

	for _, ep := range r.endpoints {
		cmd := ep.Command(getServerURL)
		if parent, ok := parents[cmd.Name()]; ok {
			parent.AddCommand(cmd)
			continue
		}
		apiCmd.AddCommand(cmd)
	}

	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}

// Group nests endpoint commands under a parent command such as "calls".
type Group struct {
	Use     string
	Short   string
	Members []string
}
