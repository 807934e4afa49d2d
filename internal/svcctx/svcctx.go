// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/sift/internal/cache"
	"github.com/jackzampolin/sift/internal/config"
	"github.com/jackzampolin/sift/internal/extraction"
	"github.com/jackzampolin/sift/internal/home"
	"github.com/jackzampolin/sift/internal/ledger"
	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/schema"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Registry      *providers.Registry
	Extractor     *extraction.Extractor
	Ledger        *ledger.Ledger
	Cache         *cache.Redis
	Schemas       *schema.Catalog
	ConfigManager *config.Manager
	Logger        *slog.Logger
	Home          *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// ExtractorFrom extracts the extractor from context.
func ExtractorFrom(ctx context.Context) *extraction.Extractor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Extractor
	}
	return nil
}

// LedgerFrom extracts the usage ledger from context.
func LedgerFrom(ctx context.Context) *ledger.Ledger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ledger
	}
	return nil
}

// CacheFrom extracts the result cache from context. Nil when caching is off.
func CacheFrom(ctx context.Context) *cache.Redis {
	if s := ServicesFrom(ctx); s != nil {
		return s.Cache
	}
	return nil
}

// SchemasFrom extracts the named schema catalog from context.
func SchemasFrom(ctx context.Context) *schema.Catalog {
	if s := ServicesFrom(ctx); s != nil {
		return s.Schemas
	}
	return nil
}

// ConfigFrom returns the current configuration, or the defaults when no
// manager is attached.
func ConfigFrom(ctx context.Context) *config.Config {
	if s := ServicesFrom(ctx); s != nil && s.ConfigManager != nil {
		return s.ConfigManager.Get()
	}
	return config.DefaultConfig()
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
