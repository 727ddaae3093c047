package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/graphrun/store"
)

// StepStatus is the outcome recorded in a state's execution history.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepFallback  StepStatus = "fallback"
)

// StepRecord is one entry in the execution history.
type StepRecord struct {
	NodeID    string     `json:"node_id"`
	Timestamp time.Time  `json:"timestamp"`
	Status    StepStatus `json:"status"`
	Detail    string     `json:"detail,omitempty"`
}

// State is the versioned key/value bag that flows through an execution.
//
// Keys enumerate in insertion order. Every mutation bumps Version; Checksum
// covers key/value content and metadata, not history or version.
type State struct {
	mu        sync.RWMutex
	id        string
	version   uint64
	createdAt time.Time
	keys      []string
	values    map[string]any
	metadata  map[string]any
	modified  bool
	history   []StepRecord
}

// NewState creates a state holding initial. Map iteration order is random,
// so initial keys are inserted in sorted order.
func NewState(initial map[string]any) *State {
	s := &State{
		id:        uuid.NewString(),
		version:   1,
		createdAt: time.Now(),
		values:    make(map[string]any, len(initial)),
		metadata:  make(map[string]any),
	}
	keys := slices.Sorted(maps.Keys(initial))
	for _, k := range keys {
		s.keys = append(s.keys, k)
		s.values[k] = deepCopy(initial[k])
	}
	return s
}

func (s *State) ID() string { return s.id }

func (s *State) CreatedAt() time.Time { return s.createdAt }

// Version returns the mutation counter.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// IsModified reports whether the state changed since the last MarkClean.
func (s *State) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

// MarkClean resets the modification flag.
func (s *State) MarkClean() {
	s.mu.Lock()
	s.modified = false
	s.mu.Unlock()
}

func (s *State) touch() {
	s.version++
	s.modified = true
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Value returns the value under key converted to T.
func Value[T any](s *State, key string) (T, bool) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Set writes key. Nodes never call Set on the canonical state; the
// executor applies their returned writes.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value)
}

func (s *State) setLocked(key string, value any) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
	s.touch()
}

// Delete removes key and reports whether it was present.
func (s *State) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return false
	}
	delete(s.values, key)
	s.keys = slices.DeleteFunc(s.keys, func(k string) bool { return k == key })
	s.touch()
	return true
}

// Keys returns keys in insertion order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.keys)
}

// Len returns the number of keys.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Args returns a deep copy of the key/value content.
func (s *State) Args() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = deepCopy(v)
	}
	return out
}

// SetMetadata stores a metadata entry.
func (s *State) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	s.touch()
}

// GetMetadata returns a metadata entry.
func (s *State) GetMetadata(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	return v, ok
}

// Metadata returns a copy of all metadata.
func (s *State) Metadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = deepCopy(v)
	}
	return out
}

// AppendHistory records a step.
func (s *State) AppendHistory(rec StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	s.touch()
}

// History returns the execution history in order.
func (s *State) History() []StepRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// Clone returns an independent deep copy sharing id and version.
func (s *State) Clone() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &State{
		id:        s.id,
		version:   s.version,
		createdAt: s.createdAt,
		keys:      slices.Clone(s.keys),
		values:    make(map[string]any, len(s.values)),
		metadata:  make(map[string]any, len(s.metadata)),
		modified:  s.modified,
		history:   slices.Clone(s.history),
	}
	for k, v := range s.values {
		c.values[k] = deepCopy(v)
	}
	for k, v := range s.metadata {
		c.metadata[k] = deepCopy(v)
	}
	return c
}

// Checksum returns a hex sha256 over the canonical encoding of content and
// metadata. Key order does not affect it.
func (s *State) Checksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, vErr := encodeMap(store.GlobalTypeRegistry(), s.values)
	metadata, mErr := encodeMap(store.GlobalTypeRegistry(), s.metadata)
	if vErr == nil && mErr == nil {
		if sum, err := checksumOf(values, metadata); err == nil {
			return sum
		}
	}

	// values the registry cannot encode fall back to their Go syntax
	h := sha256.New()
	for _, k := range slices.Sorted(maps.Keys(s.values)) {
		fmt.Fprintf(h, "v:%s=%#v;", k, s.values[k])
	}
	for _, k := range slices.Sorted(maps.Keys(s.metadata)) {
		fmt.Fprintf(h, "m:%s=%#v;", k, s.metadata[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func checksumOf(values, metadata map[string]store.TypedValue) (string, error) {
	data, err := json.Marshal(struct {
		V map[string]store.TypedValue `json:"v"`
		M map[string]store.TypedValue `json:"m"`
	}{values, metadata})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// String renders keys in insertion order for debugging.
func (s *State) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b []byte
	b = append(b, '{')
	for i, k := range s.keys {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = fmt.Appendf(b, "%s: %v", k, s.values[k])
	}
	b = append(b, '}')
	return fmt.Sprintf("State(%s v%d %s)", s.id, s.version, b)
}

// deepCopy returns a copy of v that shares no mutable memory with it.
// Maps, slices, arrays, pointers and exported struct fields are copied
// recursively; funcs, channels and unexported fields are shared.
func deepCopy(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int, int64, float64, time.Time, time.Duration:
		return v
	case []string:
		return slices.Clone(x)
	case []int:
		return slices.Clone(x)
	case []float64:
		return slices.Clone(x)
	case []byte:
		return slices.Clone(x)
	}
	return copyValue(reflect.ValueOf(v), make(map[uintptr]reflect.Value)).Interface()
}

func copyValue(v reflect.Value, seen map[uintptr]reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyValue(iter.Value(), seen))
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			out.Index(i).Set(copyValue(v.Index(i), seen))
		}
		return out

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			out.Index(i).Set(copyValue(v.Index(i), seen))
		}
		return out

	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		if done, ok := seen[v.Pointer()]; ok {
			return done
		}
		out := reflect.New(v.Type().Elem())
		seen[v.Pointer()] = out
		out.Elem().Set(copyValue(v.Elem(), seen))
		return out

	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(copyValue(v.Elem(), seen))
		return out

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := range v.NumField() {
			if f := out.Field(i); f.CanSet() {
				f.Set(copyValue(v.Field(i), seen))
			}
		}
		return out
	}
	return v
}
