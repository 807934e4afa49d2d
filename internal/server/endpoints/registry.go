package endpoints

import (
	"github.com/jackzampolin/sift/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Extraction
		&ExtractEndpoint{},
		&ListSchemasEndpoint{},
		&GetSchemaEndpoint{},

		// Usage ledger
		&UsageEndpoint{},
		&ListInvocationsEndpoint{},

		// LLM call history endpoints
		&ListLLMCallsEndpoint{},
		&LLMCallCountsEndpoint{},
		&GetLLMCallEndpoint{},
	}
}

// Registry returns an api.Registry holding every endpoint.
func Registry() *api.Registry {
	r := api.NewRegistry()
	for _, ep := range All() {
		r.Register(ep)
	}
	return r
}

// CommandGroups nests related commands under "sift api".
func CommandGroups() []api.Group {
	return []api.Group{
		{
			Use:     "calls",
			Short:   "LLM call history commands",
			Members: []string{"list", "get", "counts"},
		},
	}
}
