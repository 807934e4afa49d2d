package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs an HTTP route with the CLI command that calls it, so the
// server and `sift api` stay in step.
type Endpoint interface {
	// Route returns the method, path pattern and handler.
	Route() (method, path string, handler http.HandlerFunc)

	// NeedsServices reports whether the handler uses the usage ledger or
	// the extractor. Such routes answer 503 until both are up.
	NeedsServices() bool

	// Command builds the CLI command. serverURL is resolved when the
	// command runs, after flags are parsed.
	Command(serverURL func() string) *cobra.Command
}

// Pattern returns the ServeMux pattern for ep, e.g. "POST /v1/extract".
func Pattern(ep Endpoint) string {
	method, path, _ := ep.Route()
	return method + " " + path
}
