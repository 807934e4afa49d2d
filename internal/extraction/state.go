package extraction

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"sync"

	"github.com/jackzampolin/sift/internal/schema"
)

// State is the working extraction of one invocation.
// It holds at most one current record plus the caller's baseline, and is
// never shared across invocations. Every record it stores was validated
// by the tool that wrote it.
type State struct {
	mu       sync.RWMutex
	current  map[string]any
	baseline map[string]any
}

// Snapshot is an opaque copy of a State, used to roll back failed attempts.
type Snapshot struct {
	current map[string]any
}

// NewState returns an empty state.
func NewState() *State {
	return &State{}
}

// Preload installs a baseline record as both baseline and current extraction.
func (s *State) Preload(record map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = cloneRecord(record)
	s.current = cloneRecord(record)
}

// Set replaces the current extraction.
func (s *State) Set(record map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = cloneRecord(record)
}

// Current returns a copy of the current extraction, or nil.
func (s *State) Current() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecord(s.current)
}

// Baseline returns a copy of the preloaded record, or nil.
func (s *State) Baseline() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecord(s.baseline)
}

// HasExtraction reports whether a non-empty record is present.
func (s *State) HasExtraction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current) > 0
}

// Snapshot captures the current extraction.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{current: cloneRecord(s.current)}
}

// Restore rolls the current extraction back to snap.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = cloneRecord(snap.current)
}

// Matches reports whether the current extraction equals record.
func (s *State) Matches(record map[string]any) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reflect.DeepEqual(normalize(s.current), normalize(record))
}

// cloneRecord deep-copies a record through JSON so numbers become
// json.Number and no caller map is aliased.
func cloneRecord(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil
	}
	out, err := schema.DecodeRecord(raw)
	if err != nil {
		return nil
	}
	return out
}

func normalize(record map[string]any) map[string]any {
	if len(record) == 0 {
		return nil
	}
	out, _ := canonicalNumbers(cloneRecord(record)).(map[string]any)
	return out
}

// canonicalNumbers rewrites every json.Number to a single spelling so 1,
// 1.0 and 1e0 compare equal.
func canonicalNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = canonicalNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = canonicalNumbers(item)
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return json.Number(strconv.FormatInt(i, 10))
		}
		if f, err := val.Float64(); err == nil {
			if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
				return json.Number(strconv.FormatInt(int64(f), 10))
			}
			return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
		}
		return val
	default:
		return v
	}
}
