package graph

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"
)

// Reducer combines the value already in the state with an incoming write.
// Reducers used with Reduce should be associative so fan-in results do not
// depend on how writers are grouped.
type Reducer func(current, incoming any) (any, error)

// MergePolicy decides the value of a key written when it already holds a value.
type MergePolicy int

const (
	// PreferSecond keeps the incoming value (last writer wins).
	PreferSecond MergePolicy = iota
	// PreferFirst keeps the value already present.
	PreferFirst
	// Reduce combines both values with a key or type reducer.
	Reduce
)

func (p MergePolicy) String() string {
	switch p {
	case PreferSecond:
		return "prefer_second"
	case PreferFirst:
		return "prefer_first"
	case Reduce:
		return "reduce"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// ParseMergePolicy parses the String form of a policy.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "", "prefer_second", "last_writer_wins":
		return PreferSecond, nil
	case "prefer_first", "first_writer_wins":
		return PreferFirst, nil
	case "reduce":
		return Reduce, nil
	}
	return PreferSecond, fmt.Errorf("unknown merge policy %q", s)
}

// MergeConfig holds the conflict policy per key, with per-key and per-type
// reducers for Reduce. Keys without an explicit policy use Default.
type MergeConfig struct {
	Default      MergePolicy
	KeyPolicies  map[string]MergePolicy
	KeyReducers  map[string]Reducer
	TypeReducers map[reflect.Type]Reducer
}

// NewMergeConfig returns a config whose default is PreferSecond.
func NewMergeConfig() *MergeConfig {
	return &MergeConfig{
		Default:      PreferSecond,
		KeyPolicies:  make(map[string]MergePolicy),
		KeyReducers:  make(map[string]Reducer),
		TypeReducers: make(map[reflect.Type]Reducer),
	}
}

// WithDefault sets the policy for unconfigured keys.
func (c *MergeConfig) WithDefault(p MergePolicy) *MergeConfig {
	c.Default = p
	return c
}

// WithKeyPolicy sets the policy for key.
func (c *MergeConfig) WithKeyPolicy(key string, p MergePolicy) *MergeConfig {
	c.KeyPolicies[key] = p
	return c
}

// WithReducer makes key use Reduce with r.
func (c *MergeConfig) WithReducer(key string, r Reducer) *MergeConfig {
	c.KeyPolicies[key] = Reduce
	c.KeyReducers[key] = r
	return c
}

// WithTypeReducer registers r for values of the same dynamic type as sample.
// It applies to keys whose policy resolves to Reduce and that have no key reducer.
func (c *MergeConfig) WithTypeReducer(sample any, r Reducer) *MergeConfig {
	c.TypeReducers[reflect.TypeOf(sample)] = r
	return c
}

func (c *MergeConfig) policyFor(key string) MergePolicy {
	if c == nil {
		return PreferSecond
	}
	if p, ok := c.KeyPolicies[key]; ok {
		return p
	}
	return c.Default
}

// Resolve returns the merged value for key given the current and incoming
// values. When the key has no current value the incoming value always wins.
func (c *MergeConfig) Resolve(key string, current any, hasCurrent bool, incoming any) (any, error) {
	if !hasCurrent {
		return incoming, nil
	}

	switch c.policyFor(key) {
	case PreferFirst:
		return current, nil
	case Reduce:
		r := c.reducerFor(key, current)
		if r == nil {
			return nil, fmt.Errorf("key %q: reduce policy without reducer for %T", key, current)
		}
		v, err := r(current, incoming)
		if err != nil {
			return nil, fmt.Errorf("failed to reduce key %s: %w", key, err)
		}
		return v, nil
	default:
		return incoming, nil
	}
}

func (c *MergeConfig) reducerFor(key string, current any) Reducer {
	if r, ok := c.KeyReducers[key]; ok {
		return r
	}
	if current != nil {
		if r, ok := c.TypeReducers[reflect.TypeOf(current)]; ok {
			return r
		}
	}
	return nil
}

// Write is a single proposed key update.
type Write struct {
	Key   string
	Value any
}

// Update is the map form of proposed writes a node function may return.
type Update map[string]any

func (u Update) writes() []Write {
	out := make([]Write, 0, len(u))
	for _, k := range slices.Sorted(maps.Keys(u)) {
		out = append(out, Write{Key: k, Value: u[k]})
	}
	return out
}

// Apply merges writes into s in order under cfg. A nil cfg means PreferSecond.
func (s *State) Apply(writes []Write, cfg *MergeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		current, ok := s.values[w.Key]
		v, err := cfg.Resolve(w.Key, current, ok, w.Value)
		if err != nil {
			return err
		}
		s.setLocked(w.Key, v)
	}
	return nil
}

// Merge combines a and b into a new state with a's identity. Keys of b
// conflicting with a are resolved by cfg; metadata from b overrides a and
// b's history is appended after a's.
func Merge(a, b *State, cfg *MergeConfig) (*State, error) {
	out := a.Clone()

	b.mu.RLock()
	writes := make([]Write, 0, len(b.keys))
	for _, k := range b.keys {
		writes = append(writes, Write{Key: k, Value: deepCopy(b.values[k])})
	}
	meta := make(map[string]any, len(b.metadata))
	for k, v := range b.metadata {
		meta[k] = deepCopy(v)
	}
	history := append([]StepRecord(nil), b.history...)
	b.mu.RUnlock()

	if err := out.Apply(writes, cfg); err != nil {
		return nil, err
	}

	out.mu.Lock()
	for k, v := range meta {
		out.metadata[k] = v
	}
	out.history = append(out.history, history...)
	out.touch()
	out.mu.Unlock()
	return out, nil
}

// OverwriteReducer replaces the old value with the new one.
func OverwriteReducer(_, incoming any) (any, error) {
	return incoming, nil
}

// AppendReducer appends the incoming value (or slice) to the current slice.
// The result never aliases the current slice's backing array.
func AppendReducer(current, incoming any) (any, error) {
	newVal := reflect.ValueOf(incoming)
	if current == nil {
		if newVal.Kind() == reflect.Slice {
			return incoming, nil
		}
		slice := reflect.MakeSlice(reflect.SliceOf(reflect.TypeOf(incoming)), 0, 1)
		return reflect.Append(slice, newVal).Interface(), nil
	}

	currVal := reflect.ValueOf(current)
	if currVal.Kind() != reflect.Slice {
		return nil, fmt.Errorf("current value is not a slice: %T", current)
	}

	if newVal.Kind() == reflect.Slice {
		if currVal.Type().Elem() != newVal.Type().Elem() {
			result := make([]any, 0, currVal.Len()+newVal.Len())
			for i := 0; i < currVal.Len(); i++ {
				result = append(result, currVal.Index(i).Interface())
			}
			for i := 0; i < newVal.Len(); i++ {
				result = append(result, newVal.Index(i).Interface())
			}
			return result, nil
		}
		out := reflect.MakeSlice(currVal.Type(), 0, currVal.Len()+newVal.Len())
		out = reflect.AppendSlice(out, currVal)
		return reflect.AppendSlice(out, newVal).Interface(), nil
	}

	if !newVal.Type().AssignableTo(currVal.Type().Elem()) {
		return nil, fmt.Errorf("cannot append %T to %T", incoming, current)
	}
	out := reflect.MakeSlice(currVal.Type(), 0, currVal.Len()+1)
	out = reflect.AppendSlice(out, currVal)
	return reflect.Append(out, newVal).Interface(), nil
}

// SumReducer adds numeric values of the same kind.
func SumReducer(current, incoming any) (any, error) {
	switch c := current.(type) {
	case int:
		if n, ok := incoming.(int); ok {
			return c + n, nil
		}
	case int64:
		if n, ok := incoming.(int64); ok {
			return c + n, nil
		}
	case float64:
		if n, ok := incoming.(float64); ok {
			return c + n, nil
		}
	case time.Duration:
		if n, ok := incoming.(time.Duration); ok {
			return c + n, nil
		}
	}
	return nil, fmt.Errorf("cannot sum %T and %T", current, incoming)
}

// MaxReducer keeps the larger of two numbers, preserving its type.
func MaxReducer(current, incoming any) (any, error) {
	c, n, err := numericPair(current, incoming)
	if err != nil {
		return nil, err
	}
	if n > c {
		return incoming, nil
	}
	return current, nil
}

// MinReducer keeps the smaller of two numbers, preserving its type.
func MinReducer(current, incoming any) (any, error) {
	c, n, err := numericPair(current, incoming)
	if err != nil {
		return nil, err
	}
	if n < c {
		return incoming, nil
	}
	return current, nil
}

func numericPair(a, b any) (float64, float64, error) {
	x, ok := toFloat(a)
	if !ok {
		return 0, 0, fmt.Errorf("not a number: %T", a)
	}
	y, ok := toFloat(b)
	if !ok {
		return 0, 0, fmt.Errorf("not a number: %T", b)
	}
	return x, y, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
