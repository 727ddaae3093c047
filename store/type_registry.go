package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// TypedValue is a JSON envelope that remembers the Go type of a state value
// so checkpoint payloads decode back to the same types they were saved with.
type TypedValue struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v,omitempty"`
}

// Built-in type tags.
const (
	tagNil      = "nil"
	tagBool     = "bool"
	tagString   = "string"
	tagInt      = "int"
	tagInt8     = "int8"
	tagInt16    = "int16"
	tagInt32    = "int32"
	tagInt64    = "int64"
	tagUint     = "uint"
	tagUint8    = "uint8"
	tagUint16   = "uint16"
	tagUint32   = "uint32"
	tagUint64   = "uint64"
	tagFloat32  = "float32"
	tagFloat64  = "float64"
	tagTime     = "time"
	tagDuration = "duration"
	tagBytes    = "bytes"
	tagStrings  = "[]string"
	tagInts     = "[]int"
	tagFloats   = "[]float64"
	tagList     = "[]any"
	tagMap      = "map"
	tagJSON     = "json"
)

// elementTypes are the leaf names allowed in composite tags such as
// "map[string][]int64".
var elementTypes = map[string]reflect.Type{
	"bool":          reflect.TypeFor[bool](),
	"string":        reflect.TypeFor[string](),
	"int":           reflect.TypeFor[int](),
	"int8":          reflect.TypeFor[int8](),
	"int16":         reflect.TypeFor[int16](),
	"int32":         reflect.TypeFor[int32](),
	"int64":         reflect.TypeFor[int64](),
	"uint":          reflect.TypeFor[uint](),
	"uint8":         reflect.TypeFor[uint8](),
	"uint16":        reflect.TypeFor[uint16](),
	"uint32":        reflect.TypeFor[uint32](),
	"uint64":        reflect.TypeFor[uint64](),
	"float32":       reflect.TypeFor[float32](),
	"float64":       reflect.TypeFor[float64](),
	"time.Time":     reflect.TypeFor[time.Time](),
	"time.Duration": reflect.TypeFor[time.Duration](),
}

// TypeRegistry maps user struct types to stable names for serialization.
type TypeRegistry struct {
	mu                sync.RWMutex
	typeNameToType    map[string]reflect.Type
	typeToName        map[reflect.Type]string
	jsonMarshallers   map[reflect.Type]func(any) ([]byte, error)
	jsonUnmarshallers map[reflect.Type]func([]byte) (any, error)
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		typeNameToType:    make(map[string]reflect.Type),
		typeToName:        make(map[reflect.Type]string),
		jsonMarshallers:   make(map[reflect.Type]func(any) ([]byte, error)),
		jsonUnmarshallers: make(map[reflect.Type]func([]byte) (any, error)),
	}
}

var globalTypeRegistry = NewTypeRegistry()

// GlobalTypeRegistry returns the process-wide registry used when callers do
// not supply their own.
func GlobalTypeRegistry() *TypeRegistry {
	return globalTypeRegistry
}

// RegisterType registers t on the global registry.
func RegisterType(t reflect.Type, typeName string) error {
	return globalTypeRegistry.Register(t, typeName)
}

// RegisterTypeWithValue registers the dynamic type of value on the global registry.
//
//	store.RegisterTypeWithValue(Order{}, "Order")
func RegisterTypeWithValue(value any, typeName string) error {
	return globalTypeRegistry.Register(reflect.TypeOf(value), typeName)
}

// Register adds a struct (or pointer to struct) type under typeName.
func (r *TypeRegistry) Register(t reflect.Type, typeName string) error {
	if t == nil {
		return fmt.Errorf("cannot register nil type as %s", typeName)
	}
	base := t
	if base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	if base.Kind() != reflect.Struct {
		return fmt.Errorf("type %s must be a struct or pointer to struct", t)
	}
	if _, elem := elementTypes[typeName]; elem || typeName == "" || isBuiltinTag(typeName) || strings.ContainsAny(typeName, "[]") {
		return fmt.Errorf("invalid type name %q for %s", typeName, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingName, ok := r.typeToName[t]; ok && existingName != typeName {
		return fmt.Errorf("type %v already registered as %s", t, existingName)
	}
	if existing, ok := r.typeNameToType[typeName]; ok && existing != t {
		return fmt.Errorf("name %s already used by %v", typeName, existing)
	}

	r.typeNameToType[typeName] = t
	r.typeToName[t] = typeName
	return nil
}

// RegisterWithCustomSerialization registers t with its own JSON codec.
func (r *TypeRegistry) RegisterWithCustomSerialization(
	t reflect.Type,
	typeName string,
	marshalFunc func(any) ([]byte, error),
	unmarshalFunc func([]byte) (any, error),
) error {
	if err := r.Register(t, typeName); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jsonMarshallers[t] = marshalFunc
	r.jsonUnmarshallers[t] = unmarshalFunc
	return nil
}

// GetTypeByName returns the reflect.Type for a registered type name.
func (r *TypeRegistry) GetTypeByName(typeName string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.typeNameToType[typeName]
	return t, ok
}

// GetTypeName returns the registered name for a type.
func (r *TypeRegistry) GetTypeName(t reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.typeToName[t]
	return name, ok
}

// Encode wraps v in a TypedValue. Registered types are tagged by name and
// scalars by a built-in tag. Slices and maps of those are tagged with their
// Go type, e.g. "map[string][]int64". Anything else falls back to plain
// JSON, which decodes to generic JSON values with json.Number numbers.
func (r *TypeRegistry) Encode(v any) (TypedValue, error) {
	if v == nil {
		return TypedValue{Type: tagNil}, nil
	}

	if name, ok := r.GetTypeName(reflect.TypeOf(v)); ok {
		return r.encodeRegistered(v, name)
	}

	switch x := v.(type) {
	case bool:
		return rawValue(tagBool, x)
	case string:
		return rawValue(tagString, x)
	case int:
		return rawValue(tagInt, x)
	case int8:
		return rawValue(tagInt8, x)
	case int16:
		return rawValue(tagInt16, x)
	case int32:
		return rawValue(tagInt32, x)
	case int64:
		return rawValue(tagInt64, x)
	case uint:
		return rawValue(tagUint, x)
	case uint8:
		return rawValue(tagUint8, x)
	case uint16:
		return rawValue(tagUint16, x)
	case uint32:
		return rawValue(tagUint32, x)
	case uint64:
		return rawValue(tagUint64, x)
	case float32:
		return rawValue(tagFloat32, x)
	case float64:
		return rawValue(tagFloat64, x)
	case time.Time:
		return rawValue(tagTime, x.Format(time.RFC3339Nano))
	case time.Duration:
		return rawValue(tagDuration, int64(x))
	case []byte:
		return rawValue(tagBytes, x)
	case []string:
		return rawValue(tagStrings, x)
	case []int:
		return rawValue(tagInts, x)
	case []float64:
		return rawValue(tagFloats, x)
	case []any:
		items := make([]TypedValue, len(x))
		for i, item := range x {
			tv, err := r.Encode(item)
			if err != nil {
				return TypedValue{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = tv
		}
		return rawValue(tagList, items)
	case map[string]any:
		entries := make(map[string]TypedValue, len(x))
		for k, item := range x {
			tv, err := r.Encode(item)
			if err != nil {
				return TypedValue{}, fmt.Errorf("key %q: %w", k, err)
			}
			entries[k] = tv
		}
		return rawValue(tagMap, entries)
	}

	if expr, ok := r.typeExpr(reflect.TypeOf(v)); ok {
		return rawValue(expr, v)
	}
	return rawValue(tagJSON, v)
}

// typeExpr names a slice or map type built from element types and plain
// registered structs. ok is false for anything Decode could not rebuild.
func (r *TypeRegistry) typeExpr(t reflect.Type) (string, bool) {
	switch t.Kind() {
	case reflect.Slice:
		if t.Name() != "" {
			return "", false
		}
		elem, ok := r.elemExpr(t.Elem())
		if !ok {
			return "", false
		}
		return "[]" + elem, true
	case reflect.Map:
		if t.Name() != "" {
			return "", false
		}
		key, ok := elementTypes[t.Key().Name()]
		if !ok || key != t.Key() || !validMapKey(key.Kind()) {
			return "", false
		}
		elem, ok := r.elemExpr(t.Elem())
		if !ok {
			return "", false
		}
		return "map[" + t.Key().Name() + "]" + elem, true
	}
	return "", false
}

func (r *TypeRegistry) elemExpr(t reflect.Type) (string, bool) {
	if name, ok := r.GetTypeName(t); ok {
		r.mu.RLock()
		_, custom := r.jsonMarshallers[t]
		r.mu.RUnlock()
		return name, !custom
	}
	if known, ok := elementTypes[t.String()]; ok && known == t {
		return t.String(), true
	}
	return r.typeExpr(t)
}

func validMapKey(k reflect.Kind) bool {
	switch k {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// parseTypeExpr reverses typeExpr.
func (r *TypeRegistry) parseTypeExpr(expr string) (reflect.Type, error) {
	switch {
	case strings.HasPrefix(expr, "[]"):
		elem, err := r.parseTypeExpr(expr[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(expr, "map["):
		end := strings.IndexByte(expr, ']')
		if end < 0 {
			return nil, fmt.Errorf("malformed type %q", expr)
		}
		key, ok := elementTypes[expr[4:end]]
		if !ok || !validMapKey(key.Kind()) {
			return nil, fmt.Errorf("unsupported map key in %q", expr)
		}
		elem, err := r.parseTypeExpr(expr[end+1:])
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(key, elem), nil
	}
	if t, ok := elementTypes[expr]; ok {
		return t, nil
	}
	if t, ok := r.GetTypeByName(expr); ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown type: %s", expr)
}

func (r *TypeRegistry) encodeRegistered(v any, name string) (TypedValue, error) {
	r.mu.RLock()
	marshal, custom := r.jsonMarshallers[reflect.TypeOf(v)]
	r.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	if custom {
		data, err = marshal(v)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return TypedValue{}, fmt.Errorf("marshal %s: %w", name, err)
	}
	return TypedValue{Type: name, Value: data}, nil
}

// Decode reverses Encode.
func (r *TypeRegistry) Decode(tv TypedValue) (any, error) {
	switch tv.Type {
	case tagNil:
		return nil, nil
	case tagBool:
		return decodeAs[bool](tv)
	case tagString:
		return decodeAs[string](tv)
	case tagInt:
		return decodeAs[int](tv)
	case tagInt8:
		return decodeAs[int8](tv)
	case tagInt16:
		return decodeAs[int16](tv)
	case tagInt32:
		return decodeAs[int32](tv)
	case tagInt64:
		return decodeAs[int64](tv)
	case tagUint:
		return decodeAs[uint](tv)
	case tagUint8:
		return decodeAs[uint8](tv)
	case tagUint16:
		return decodeAs[uint16](tv)
	case tagUint32:
		return decodeAs[uint32](tv)
	case tagUint64:
		return decodeAs[uint64](tv)
	case tagFloat32:
		return decodeAs[float32](tv)
	case tagFloat64:
		return decodeAs[float64](tv)
	case tagTime:
		s, err := decodeAs[string](tv)
		if err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case tagDuration:
		n, err := decodeAs[int64](tv)
		if err != nil {
			return nil, err
		}
		return time.Duration(n), nil
	case tagBytes:
		return decodeAs[[]byte](tv)
	case tagStrings:
		return decodeAs[[]string](tv)
	case tagInts:
		return decodeAs[[]int](tv)
	case tagFloats:
		return decodeAs[[]float64](tv)
	case tagList:
		items, err := decodeAs[[]TypedValue](tv)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			if out[i], err = r.Decode(item); err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
		}
		return out, nil
	case tagMap:
		entries, err := decodeAs[map[string]TypedValue](tv)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(entries))
		for k, item := range entries {
			if out[k], err = r.Decode(item); err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
		}
		return out, nil
	case tagJSON:
		dec := json.NewDecoder(bytes.NewReader(tv.Value))
		dec.UseNumber()
		var out any
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", tv.Type, err)
		}
		return out, nil
	}

	if strings.HasPrefix(tv.Type, "[]") || strings.HasPrefix(tv.Type, "map[") {
		t, err := r.parseTypeExpr(tv.Type)
		if err != nil {
			return nil, err
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(tv.Value, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", tv.Type, err)
		}
		return ptr.Elem().Interface(), nil
	}
	return r.decodeRegistered(tv)
}

func (r *TypeRegistry) decodeRegistered(tv TypedValue) (any, error) {
	t, ok := r.GetTypeByName(tv.Type)
	if !ok {
		return nil, fmt.Errorf("unknown type: %s", tv.Type)
	}

	r.mu.RLock()
	unmarshal, custom := r.jsonUnmarshallers[t]
	r.mu.RUnlock()
	if custom {
		return unmarshal(tv.Value)
	}

	if t.Kind() == reflect.Ptr {
		ptr := reflect.New(t.Elem())
		if err := json.Unmarshal(tv.Value, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", tv.Type, err)
		}
		return ptr.Interface(), nil
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(tv.Value, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", tv.Type, err)
	}
	return ptr.Elem().Interface(), nil
}

func rawValue(tag string, v any) (TypedValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return TypedValue{}, fmt.Errorf("marshal %s: %w", tag, err)
	}
	return TypedValue{Type: tag, Value: data}, nil
}

func decodeAs[T any](tv TypedValue) (T, error) {
	var out T
	if err := json.Unmarshal(tv.Value, &out); err != nil {
		return out, fmt.Errorf("unmarshal %s: %w", tv.Type, err)
	}
	return out, nil
}

func isBuiltinTag(name string) bool {
	switch name {
	case tagNil, tagBool, tagString, tagInt, tagInt8, tagInt16, tagInt32, tagInt64,
		tagUint, tagUint8, tagUint16, tagUint32, tagUint64, tagFloat32, tagFloat64,
		tagTime, tagDuration, tagBytes, tagStrings, tagInts, tagFloats, tagList, tagMap, tagJSON:
		return true
	}
	return false
}
