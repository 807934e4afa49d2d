package endpoints

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/svcctx"
)

// SchemaInfo describes a catalog schema.
type SchemaInfo struct {
	Name   string         `json:"name"`
	Fields int            `json:"fields"`
	Schema map[string]any `json:"schema,omitempty"`
}

// SchemasResponse lists catalog schemas.
type SchemasResponse struct {
	Schemas []SchemaInfo `json:"schemas"`
}

// ListSchemasEndpoint handles GET /v1/schemas.
type ListSchemasEndpoint struct{}

func (e *ListSchemasEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/schemas", e.handler
}

func (e *ListSchemasEndpoint) NeedsServices() bool { return false }

func (e *ListSchemasEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := SchemasResponse{Schemas: []SchemaInfo{}}
	if catalog := svcctx.SchemasFrom(r.Context()); catalog != nil {
		for _, entry := range catalog.All() {
			resp.Schemas = append(resp.Schemas, SchemaInfo{
				Name:   entry.Name,
				Fields: entry.Schema.FieldCount(),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListSchemasEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List the server's named schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SchemasResponse
			if err := client.Get(cmd.Context(), "/v1/schemas", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetSchemaEndpoint handles GET /v1/schemas/{name}.
type GetSchemaEndpoint struct{}

func (e *GetSchemaEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/schemas/{name}", e.handler
}

func (e *GetSchemaEndpoint) NeedsServices() bool { return false }

func (e *GetSchemaEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	catalog := svcctx.SchemasFrom(r.Context())
	if catalog == nil {
		writeError(w, http.StatusNotFound, "schema not found: "+name)
		return
	}
	s, err := catalog.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SchemaInfo{
		Name:   name,
		Fields: s.FieldCount(),
		Schema: s.Document(),
	})
}

func (e *GetSchemaEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <name>",
		Short: "Show a named schema as JSON Schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SchemaInfo
			if err := client.Get(cmd.Context(), "/v1/schemas/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
