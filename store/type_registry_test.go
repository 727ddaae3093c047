package store

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderState struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type pointerState struct {
	Field1 string
	Field2 int
}

func roundTrip(t *testing.T, r *TypeRegistry, v any) any {
	t.Helper()
	tv, err := r.Encode(v)
	require.NoError(t, err)

	data, err := json.Marshal(tv)
	require.NoError(t, err)

	var back TypedValue
	require.NoError(t, json.Unmarshal(data, &back))

	out, err := r.Decode(back)
	require.NoError(t, err)
	return out
}

func TestTypeRegistry_Register(t *testing.T) {
	r := NewTypeRegistry()

	require.NoError(t, r.Register(reflect.TypeFor[orderState](), "Order"))
	typ, ok := r.GetTypeByName("Order")
	assert.True(t, ok)
	assert.Equal(t, "orderState", typ.Name())

	require.NoError(t, r.Register(reflect.TypeFor[*pointerState](), "PointerState"))
	name, ok := r.GetTypeName(reflect.TypeFor[*pointerState]())
	assert.True(t, ok)
	assert.Equal(t, "PointerState", name)

	// same type, same name is idempotent
	assert.NoError(t, r.Register(reflect.TypeFor[orderState](), "Order"))

	assert.Error(t, r.Register(reflect.TypeFor[orderState](), "Other"))
	assert.Error(t, r.Register(reflect.TypeFor[int](), "Int"))
	assert.Error(t, r.Register(reflect.TypeFor[pointerState](), "int"))
}

func TestTypeRegistry_BuiltinRoundTrip(t *testing.T) {
	r := NewTypeRegistry()
	ts := time.Date(2025, 3, 14, 15, 9, 26, 535000000, time.UTC)

	values := []any{
		nil,
		true,
		"hello",
		42,
		int64(1) << 40,
		uint8(7),
		3.5,
		float32(1.25),
		ts,
		1500 * time.Millisecond,
		[]byte("raw"),
		[]string{"a", "b"},
		[]int{1, 2, 3},
		[]any{1, "two", 3.0},
		map[string]any{"n": 1, "nested": map[string]any{"ok": true}},
	}

	for _, v := range values {
		assert.Equal(t, v, roundTrip(t, r, v))
	}
}

func TestTypeRegistry_RegisteredStruct(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Register(reflect.TypeFor[orderState](), "Order"))
	require.NoError(t, r.Register(reflect.TypeFor[*pointerState](), "PointerState"))

	out := roundTrip(t, r, orderState{Name: "widget", Count: 3})
	assert.Equal(t, orderState{Name: "widget", Count: 3}, out)

	ptr := roundTrip(t, r, &pointerState{Field1: "x", Field2: 9})
	assert.Equal(t, &pointerState{Field1: "x", Field2: 9}, ptr)

	nested := roundTrip(t, r, map[string]any{"order": orderState{Name: "n"}})
	assert.Equal(t, map[string]any{"order": orderState{Name: "n"}}, nested)
}

func TestTypeRegistry_CustomSerialization(t *testing.T) {
	r := NewTypeRegistry()
	err := r.RegisterWithCustomSerialization(
		reflect.TypeFor[orderState](),
		"Order",
		func(v any) ([]byte, error) {
			o := v.(orderState)
			return json.Marshal(strings.ToUpper(o.Name))
		},
		func(data []byte) (any, error) {
			var s string
			if err := json.Unmarshal(data, &s); err != nil {
				return nil, err
			}
			return orderState{Name: strings.ToLower(s)}, nil
		},
	)
	require.NoError(t, err)

	tv, err := r.Encode(orderState{Name: "abc"})
	require.NoError(t, err)
	assert.JSONEq(t, `"ABC"`, string(tv.Value))

	out, err := r.Decode(tv)
	require.NoError(t, err)
	assert.Equal(t, orderState{Name: "abc"}, out)
}

func TestTypeRegistry_UnregisteredFallsBackToJSON(t *testing.T) {
	r := NewTypeRegistry()
	out := roundTrip(t, r, orderState{Name: "plain", Count: 2})
	assert.Equal(t, map[string]any{"name": "plain", "count": json.Number("2")}, out)

	big := roundTrip(t, r, []map[string]any{{"id": int64(1) << 60}})
	assert.Equal(t, []any{map[string]any{"id": json.Number("1152921504606846976")}}, big)
}

func TestTypeRegistry_TypedContainers(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Register(reflect.TypeFor[orderState](), "Order"))
	ts := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

	values := []any{
		map[string]string{"owner": "ops"},
		map[string]int{"a": 1, "b": 2},
		map[int]string{7: "seven"},
		[]int64{1 << 60, -3},
		[]uint64{1<<64 - 1},
		[]bool{true, false},
		[]time.Time{ts},
		[]time.Duration{time.Second},
		[][]byte{[]byte("x")},
		map[string][]int64{"ids": {1 << 62}},
		[]map[string]float32{{"p": 0.5}},
		[]orderState{{Name: "a", Count: 1}},
		map[string]orderState{"x": {Name: "b"}},
	}
	for _, v := range values {
		out := roundTrip(t, r, v)
		assert.IsType(t, v, out)
		assert.Equal(t, v, out)
	}

	tv, err := r.Encode(map[string][]int64{"ids": {1}})
	require.NoError(t, err)
	assert.Equal(t, "map[string][]int64", tv.Type)

	_, err = r.Decode(TypedValue{Type: "[]Missing", Value: json.RawMessage(`[]`)})
	assert.ErrorContains(t, err, "unknown type")
	assert.Error(t, r.Register(reflect.TypeFor[pointerState](), "[]Thing"))
	assert.Error(t, r.Register(reflect.TypeFor[pointerState](), "time.Time"))
}

func TestTypeRegistry_UnknownType(t *testing.T) {
	r := NewTypeRegistry()
	_, err := r.Decode(TypedValue{Type: "Missing", Value: json.RawMessage(`{}`)})
	assert.ErrorContains(t, err, "unknown type")
}
