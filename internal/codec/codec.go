// Package codec converts arbitrary in-memory state into a JSON-safe form and
// back. Serialize never fails: values it cannot represent are replaced by an
// opaque marker describing them.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	// TypeKey marks a map as the encoded form of a registered type.
	TypeKey = "__type__"
	// OpaqueTag is the tag used for values that could not be represented.
	OpaqueTag = "opaque"

	maxDepth  = 64
	maxRepr   = 256
	timeTag   = "time"
	typeField = "go_type"
	reprField = "repr"
)

// Opaque describes a value that could not be serialized. It survives
// round trips unchanged.
type Opaque struct {
	GoType string
	Repr   string
}

func (o Opaque) safe() map[string]any {
	return map[string]any{TypeKey: OpaqueTag, typeField: o.GoType, reprField: o.Repr}
}

type entry struct {
	tag    string
	encode func(any) map[string]any
	decode func(map[string]any) (any, error)
}

// Codec holds the registry of domain types that are rebuilt on Deserialize.
// It is safe for concurrent use once registration is done.
type Codec struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*entry
	byTag  map[string]*entry
}

// New returns a codec with time.Time pre-registered.
func New() *Codec {
	c := &Codec{
		byType: make(map[reflect.Type]*entry),
		byTag:  make(map[string]*entry),
	}
	Register(c, timeTag,
		func(t time.Time) map[string]any {
			return map[string]any{"value": t.UTC().Format(time.RFC3339Nano)}
		},
		func(m map[string]any) (time.Time, error) {
			s, _ := m["value"].(string)
			return time.Parse(time.RFC3339Nano, s)
		})
	return c
}

// Register adds T to the codec under tag. toSafe returns the fields of the
// encoded object; its values may be any serializable value, including other
// registered types. fromSafe receives the fields already deserialized.
// Register panics on an empty, reserved or duplicate tag.
func Register[T any](c *Codec, tag string, toSafe func(T) map[string]any, fromSafe func(map[string]any) (T, error)) {
	if tag == "" || tag == OpaqueTag {
		panic(fmt.Sprintf("codec: invalid tag %q", tag))
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byTag[tag]; dup {
		panic(fmt.Sprintf("codec: tag %q already registered", tag))
	}
	if _, dup := c.byType[typ]; dup {
		panic(fmt.Sprintf("codec: type %s already registered", typ))
	}
	e := &entry{
		tag:    tag,
		encode: func(v any) map[string]any { return toSafe(v.(T)) },
		decode: func(m map[string]any) (any, error) { return fromSafe(m) },
	}
	c.byType[typ] = e
	c.byTag[tag] = e
}

// Tags lists the registered tags in sorted order.
func (c *Codec) Tags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tags := make([]string, 0, len(c.byTag))
	for t := range c.byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func (c *Codec) lookupType(t reflect.Type) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byType[t]
}

func (c *Codec) lookupTag(tag string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byTag[tag]
}

// Serialize returns the JSON-safe form of v.
func (c *Codec) Serialize(v any) any {
	return c.serialize(v, 0)
}

func (c *Codec) serialize(v any, depth int) any {
	if depth > maxDepth {
		return opaque(v, "max depth exceeded")
	}

	switch x := v.(type) {
	case nil:
		return nil
	case bool, string, int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return safeFloat(x)
	case json.Number:
		return number(x)
	case Opaque:
		return x.safe()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = c.serialize(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = c.serialize(val, depth+1)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if e := c.lookupType(rv.Type()); e != nil {
		return c.encode(e, v, depth)
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return c.serialize(rv.Elem().Interface(), depth+1)
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return opaque(v, "")
		}
		return int64(u)
	case reflect.Float32, reflect.Float64:
		return safeFloat(rv.Float())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return opaque(v, "")
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = c.serialize(iter.Value().Interface(), depth+1)
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return []any{}
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = c.serialize(rv.Index(i).Interface(), depth+1)
		}
		return out
	}
	return opaque(v, "")
}

func (c *Codec) encode(e *entry, v any, depth int) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = opaque(v, fmt.Sprintf("encode %s panicked: %v", e.tag, r))
		}
	}()
	fields := e.encode(v)
	m := make(map[string]any, len(fields)+1)
	for k, val := range fields {
		m[k] = c.serialize(val, depth+1)
	}
	m[TypeKey] = e.tag
	return m
}

// Deserialize rebuilds registered objects from their tagged maps. Values that
// are not tagged are returned in their safe form.
func (c *Codec) Deserialize(v any) any {
	switch x := v.(type) {
	case json.Number:
		return number(x)
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = c.Deserialize(val)
		}
		return out
	case map[string]any:
		fields := make(map[string]any, len(x))
		for k, val := range x {
			if k == TypeKey {
				fields[k] = val
				continue
			}
			fields[k] = c.Deserialize(val)
		}
		tag, ok := x[TypeKey].(string)
		if !ok {
			return fields
		}
		if tag == OpaqueTag {
			if o, ok := opaqueFields(fields); ok {
				return o
			}
			return fields
		}
		e := c.lookupTag(tag)
		if e == nil {
			return fields
		}
		// A map that only looks like a registered object keeps its safe form.
		obj, err := c.decode(e, fields)
		if err != nil {
			return fields
		}
		return obj
	}
	return v
}

// opaqueFields accepts exactly the shape written by Opaque.safe.
func opaqueFields(m map[string]any) (Opaque, bool) {
	if len(m) != 3 {
		return Opaque{}, false
	}
	goType, ok1 := m[typeField].(string)
	repr, ok2 := m[reprField].(string)
	if !ok1 || !ok2 {
		return Opaque{}, false
	}
	return Opaque{GoType: goType, Repr: repr}, true
}

func (c *Codec) decode(e *entry, fields map[string]any) (obj any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.decode(fields)
}

// Equivalent reports whether a and b have the same serialized form.
func (c *Codec) Equivalent(a, b any) bool {
	return reflect.DeepEqual(c.Serialize(a), c.Serialize(b))
}

func safeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Opaque{GoType: "float64", Repr: strconv.FormatFloat(f, 'g', -1, 64)}.safe()
	}
	return f
}

// number resolves a JSON number. Literals without a fraction or exponent are
// integers; Marshal always writes floats with one of the two.
func number(n json.Number) any {
	s := n.String()
	if !isFloatLiteral(s) {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	f, err := n.Float64()
	if err != nil {
		return Opaque{GoType: "json.Number", Repr: truncate(s)}.safe()
	}
	return safeFloat(f)
}

func isFloatLiteral(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', 'e', 'E':
			return true
		}
	}
	return false
}

func opaque(v any, note string) map[string]any {
	repr := note
	if repr == "" {
		repr = describe(v)
	}
	return Opaque{GoType: fmt.Sprintf("%T", v), Repr: truncate(repr)}.safe()
}

func describe(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<unprintable: %v>", r)
		}
	}()
	switch reflect.ValueOf(v).Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("<%T>", v)
	}
	return fmt.Sprintf("%+v", v)
}

func truncate(s string) string {
	if len(s) <= maxRepr {
		return s
	}
	return s[:maxRepr] + "..."
}
