package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Marshal serializes v and encodes the safe form as JSON. Floats always carry
// a fraction or exponent so Unmarshal can tell them apart from integers.
func (c *Codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(floatLiterals(c.Serialize(v)))
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes JSON produced by Marshal and rebuilds registered objects.
func (c *Codec) Unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("codec: unmarshal: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("codec: unmarshal: trailing data after JSON value")
	}
	return c.Deserialize(raw), nil
}

func floatLiterals(v any) any {
	switch x := v.(type) {
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !isFloatLiteral(s) {
			s += ".0"
		}
		return json.Number(s)
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = floatLiterals(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = floatLiterals(val)
		}
		return out
	}
	return v
}
