package llmcall

import (
	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/store"
)

// Recorder handles fire-and-forget LLM call recording via a Sink.
type Recorder struct {
	sink *store.Sink
}

// NewRecorder creates a new LLM call recorder.
func NewRecorder(sink *store.Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Record captures an LLM call asynchronously.
// This is non-blocking - the write is queued and batched.
func (r *Recorder) Record(result *providers.ChatResult, opts RecordOptions) {
	r.RecordCall(FromChatResult(result, opts))
}

// RecordCall captures an already-constructed Call asynchronously.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || r.sink == nil || call == nil {
		return
	}
	r.sink.Send(call.WriteOp())
}
