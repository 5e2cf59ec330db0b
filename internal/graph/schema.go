package graph

import (
	"errors"
	"fmt"
	"maps"
)

var (
	// ErrUnknownKey is returned when an update names a key the schema does not declare.
	ErrUnknownKey = errors.New("graph: unknown state key")
	// ErrInvalidValue is returned when a validator rejects an update value.
	ErrInvalidValue = errors.New("graph: invalid state value")
)

// State is the shared state of a graph run.
type State map[string]any

// Update is a partial state returned by a step.
type Update map[string]any

// Validator checks a value about to be merged. A nil value always passes
// through validators, meaning "clear this key".
type Validator func(v any) error

// Schema declares the keys a graph's state may hold. A nil validator accepts
// any value.
type Schema map[string]Validator

// Merge returns a copy of s with upd applied. It is a shallow merge: a key in
// upd replaces the previous value. s is never modified.
func (sc Schema) Merge(s State, upd Update) (State, error) {
	for k, v := range upd {
		validate, ok := sc[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, k)
		}
		if validate == nil || v == nil {
			continue
		}
		if err := validate(v); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidValue, k, err)
		}
	}
	out := make(State, len(s)+len(upd))
	maps.Copy(out, s)
	maps.Copy(out, upd)
	return out, nil
}

// Keys lists the declared keys.
func (sc Schema) Keys() []string {
	keys := make([]string, 0, len(sc))
	for k := range sc {
		keys = append(keys, k)
	}
	return keys
}

// OfType returns a validator accepting only values of type T.
func OfType[T any]() Validator {
	return func(v any) error {
		if _, ok := v.(T); !ok {
			var zero T
			return fmt.Errorf("got %T, want %T", v, zero)
		}
		return nil
	}
}

// OneOf returns a validator accepting values matching any of vs.
func OneOf(vs ...Validator) Validator {
	return func(v any) error {
		var errs []error
		for _, validate := range vs {
			err := validate(v)
			if err == nil {
				return nil
			}
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
}
