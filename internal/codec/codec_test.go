package codec

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type note struct {
	Title string
	Tags  []string
	When  time.Time
	Score float64
	Child *note
}

type unregistered struct {
	Name string
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c := New()
	Register(c, "note",
		func(n note) map[string]any {
			fields := map[string]any{
				"title": n.Title,
				"tags":  n.Tags,
				"when":  n.When,
				"score": n.Score,
			}
			if n.Child != nil {
				fields["child"] = *n.Child
			}
			return fields
		},
		func(m map[string]any) (note, error) {
			return note{
				Title: String(m, "title"),
				Tags:  Strings(m, "tags"),
				When:  Time(m, "when"),
				Score: Float(m, "score"),
				Child: Ptr[note](m, "child"),
			}, nil
		})
	return c
}

func TestRoundTripThroughJSON(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	state := map[string]any{
		"count":   int64(3),
		"ratio":   1.0,
		"name":    "alice",
		"enabled": true,
		"missing": nil,
		"history": []any{
			note{Title: "first", Tags: []string{"a"}, When: when, Score: 0.5},
			note{Title: "second", Tags: []string{}, When: when, Child: &note{Title: "inner", Tags: []string{"x", "y"}, When: when}},
		},
		"nested": map[string]any{"deeper": []any{int64(1), "two", 3.5}},
	}

	data, err := c.Marshal(state)
	require.NoError(t, err)

	got, err := c.Unmarshal(data)
	require.NoError(t, err)
	require.True(t, c.Equivalent(state, got))

	m := got.(map[string]any)
	require.Equal(t, 1.0, m["ratio"])
	require.Equal(t, int64(3), m["count"])

	history := m["history"].([]any)
	require.Len(t, history, 2)
	second, ok := history[1].(note)
	require.True(t, ok, "registered objects are rebuilt")
	require.Equal(t, "second", second.Title)
	require.NotNil(t, second.Child)
	require.Equal(t, []string{"x", "y"}, second.Child.Tags)
	require.True(t, when.Equal(second.Child.When))
}

func TestSerializeIsIdempotent(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	values := []any{
		nil,
		"text",
		42,
		map[string]any{"n": note{Title: "t", Tags: []string{"a"}}},
		[]any{make(chan int), math.NaN(), unregistered{Name: "x"}},
		map[int]string{1: "one"},
		&note{Title: "pointer"},
	}
	for _, v := range values {
		once := c.Serialize(v)
		require.Equal(t, once, c.Serialize(once))
	}
}

func TestOpaqueFallbackThreeLevelsDeep(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	state := map[string]any{
		"level1": map[string]any{
			"level2": []any{
				"kept",
				map[string]any{"level3": make(chan struct{})},
			},
		},
		"sibling": "untouched",
	}

	safe := c.Serialize(state).(map[string]any)
	require.Equal(t, "untouched", safe["sibling"])

	level2 := safe["level1"].(map[string]any)["level2"].([]any)
	require.Equal(t, "kept", level2[0])
	marker := level2[1].(map[string]any)["level3"].(map[string]any)
	require.Equal(t, OpaqueTag, marker[TypeKey])
	require.Equal(t, "chan struct {}", marker["go_type"])

	data, err := c.Marshal(state)
	require.NoError(t, err)
	back, err := c.Unmarshal(data)
	require.NoError(t, err)

	level2Back := back.(map[string]any)["level1"].(map[string]any)["level2"].([]any)
	op, ok := level2Back[1].(map[string]any)["level3"].(Opaque)
	require.True(t, ok)
	require.Equal(t, "chan struct {}", op.GoType)
}

func TestUnrepresentableValuesBecomeOpaque(t *testing.T) {
	t.Parallel()
	c := New()
	Register(c, "explodes",
		func(unregistered) map[string]any { panic("boom") },
		func(map[string]any) (unregistered, error) { return unregistered{}, nil })

	cases := map[string]any{
		"nan":          math.NaN(),
		"inf":          math.Inf(1),
		"func":         func() {},
		"intKeyedMap":  map[int]int{1: 2},
		"plainStruct":  struct{ A int }{A: 1},
		"panicEncoder": unregistered{Name: "x"},
	}
	for name, v := range cases {
		safe, ok := c.Serialize(v).(map[string]any)
		require.True(t, ok, name)
		require.Equal(t, OpaqueTag, safe[TypeKey], name)
	}
}

func TestDeserializeUnknownTagKeepsMap(t *testing.T) {
	t.Parallel()
	c := New()

	got := c.Deserialize(map[string]any{TypeKey: "from-the-future", "x": "y"})
	require.Equal(t, map[string]any{TypeKey: "from-the-future", "x": "y"}, got)
}

func TestMapsUsingTheTypeKeyRoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	state := map[string]any{
		"annotations":  map[string]any{TypeKey: OpaqueTag, "note": "keep me"},
		"model_output": map[string]any{TypeKey: "time", "value": "not a time"},
		"partial":      map[string]any{TypeKey: OpaqueTag, "go_type": "x"},
	}
	data, err := c.Marshal(state)
	require.NoError(t, err)
	back, err := c.Unmarshal(data)
	require.NoError(t, err)

	require.True(t, c.Equivalent(state, back))
	got := back.(map[string]any)
	require.Equal(t, map[string]any{TypeKey: OpaqueTag, "note": "keep me"}, got["annotations"])
	require.Equal(t, map[string]any{TypeKey: "time", "value": "not a time"}, got["model_output"])
	require.Equal(t, map[string]any{TypeKey: OpaqueTag, "go_type": "x"}, got["partial"])

	op := c.Deserialize(map[string]any{TypeKey: OpaqueTag, "go_type": "chan int", "repr": "0xc0"})
	require.Equal(t, Opaque{GoType: "chan int", Repr: "0xc0"}, op)
}

func TestIntegersAndFloatsStayDistinct(t *testing.T) {
	t.Parallel()
	c := New()

	data, err := c.Marshal([]any{int64(2), 2.0, 1e21, 0.25})
	require.NoError(t, err)
	got, err := c.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, []any{int64(2), 2.0, 1e21, 0.25}, got)
}

func TestUnmarshalRejectsTrailingData(t *testing.T) {
	t.Parallel()
	c := New()

	_, err := c.Unmarshal([]byte(`{"a":1} {"b":2}`))
	require.Error(t, err)
}

func TestRegisterDuplicateTagPanics(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	require.Panics(t, func() {
		Register(c, "note",
			func(unregistered) map[string]any { return nil },
			func(map[string]any) (unregistered, error) { return unregistered{}, nil })
	})
}
