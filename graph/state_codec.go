package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smallnest/graphrun/store"
)

// stateEnvelope is the persisted layout of a State.
type stateEnvelope struct {
	ID        string                      `json:"id"`
	Version   uint64                      `json:"version"`
	CreatedAt time.Time                   `json:"created_at"`
	Keys      []string                    `json:"keys"`
	Values    map[string]store.TypedValue `json:"values"`
	Metadata  map[string]store.TypedValue `json:"metadata"`
	History   []StepRecord                `json:"history,omitempty"`
	Checksum  string                      `json:"checksum"`
}

// MarshalBinary encodes the state with the global type registry.
func (s *State) MarshalBinary() ([]byte, error) {
	return MarshalState(s, store.GlobalTypeRegistry())
}

// UnmarshalBinary replaces s with the decoded state.
func (s *State) UnmarshalBinary(data []byte) error {
	decoded, err := UnmarshalState(data, store.GlobalTypeRegistry())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = decoded.id
	s.version = decoded.version
	s.createdAt = decoded.createdAt
	s.keys = decoded.keys
	s.values = decoded.values
	s.metadata = decoded.metadata
	s.modified = decoded.modified
	s.history = decoded.history
	return nil
}

// MarshalState encodes s so that UnmarshalState reproduces its content,
// metadata, version, id and history. Struct values round-trip as their
// own type only when registered in reg.
func MarshalState(s *State, reg *store.TypeRegistry) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, err := encodeMap(reg, s.values)
	if err != nil {
		return nil, fmt.Errorf("encode state values: %w", err)
	}
	metadata, err := encodeMap(reg, s.metadata)
	if err != nil {
		return nil, fmt.Errorf("encode state metadata: %w", err)
	}
	sum, err := checksumOf(values, metadata)
	if err != nil {
		return nil, err
	}

	return json.Marshal(stateEnvelope{
		ID:        s.id,
		Version:   s.version,
		CreatedAt: s.createdAt,
		Keys:      s.keys,
		Values:    values,
		Metadata:  metadata,
		History:   s.history,
		Checksum:  sum,
	})
}

// UnmarshalState decodes data produced by MarshalState and verifies its checksum.
func UnmarshalState(data []byte, reg *store.TypeRegistry) (*State, error) {
	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if env.ID == "" {
		return nil, errors.New("decode state: missing id")
	}

	sum, err := checksumOf(env.Values, env.Metadata)
	if err != nil {
		return nil, err
	}
	if sum != env.Checksum {
		return nil, fmt.Errorf("decode state: checksum mismatch (stored %s, computed %s)", env.Checksum, sum)
	}

	values, err := decodeMap(reg, env.Values)
	if err != nil {
		return nil, fmt.Errorf("decode state values: %w", err)
	}
	metadata, err := decodeMap(reg, env.Metadata)
	if err != nil {
		return nil, fmt.Errorf("decode state metadata: %w", err)
	}
	if len(env.Keys) != len(values) {
		return nil, fmt.Errorf("decode state: %d keys for %d values", len(env.Keys), len(values))
	}
	for _, k := range env.Keys {
		if _, ok := values[k]; !ok {
			return nil, fmt.Errorf("decode state: key %q has no value", k)
		}
	}

	return &State{
		id:        env.ID,
		version:   env.Version,
		createdAt: env.CreatedAt,
		keys:      env.Keys,
		values:    values,
		metadata:  metadata,
		history:   env.History,
	}, nil
}

func encodeMap(reg *store.TypeRegistry, m map[string]any) (map[string]store.TypedValue, error) {
	out := make(map[string]store.TypedValue, len(m))
	for k, v := range m {
		tv, err := reg.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = tv
	}
	return out, nil
}

func decodeMap(reg *store.TypeRegistry, m map[string]store.TypedValue) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, tv := range m {
		v, err := reg.Decode(tv)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
