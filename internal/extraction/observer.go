package extraction

import (
	"context"
	"time"

	"github.com/jackzampolin/sift/internal/providers"
)

// Phases of an invocation, as reported to observers.
const (
	PhaseExtract = "extract"
	PhaseReview  = "review"
)

// LLMCallEvent describes one gateway call made by an invocation.
type LLMCallEvent struct {
	InvocationID string
	MeteringKey  string
	Context      string
	Phase        string
	Attempt      int
	Result       *providers.ChatResult
}

// InvocationEvent describes a finished invocation.
type InvocationEvent struct {
	InvocationID string
	MeteringKey  string
	Context      string
	Provider     string
	Model        string
	StartedAt    time.Time
	Duration     time.Duration
	Usage        Usage
	Attempts     int
	Iterations   int
	Reviewed     bool
	Cached       bool
	Success      bool
	Error        string
}

// Observer receives invocation events, typically to persist them.
// Calls happen on the invocation goroutine and must not block for long.
type Observer interface {
	ObserveLLMCall(ctx context.Context, ev LLMCallEvent)
	ObserveInvocation(ctx context.Context, ev InvocationEvent)
}

// Cache stores validated records between invocations.
type Cache interface {
	Get(ctx context.Context, key string) (map[string]any, bool, error)
	Set(ctx context.Context, key string, record map[string]any) error
}

// ClientSource resolves a provider name to a gateway tuned for one call.
// *providers.Registry satisfies it.
type ClientSource interface {
	Client(ctx context.Context, name string, opts providers.CallOptions) (providers.LLMClient, error)
}

var _ ClientSource = (*providers.Registry)(nil)
