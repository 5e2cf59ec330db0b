// Package structured parses JSON objects out of free-form model output and
// classifies the ways that can go wrong.
package structured

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind classifies a parse failure.
type Kind string

const (
	KindEmpty     Kind = "empty-response"
	KindNonJSON   Kind = "non-json-response"
	KindMalformed Kind = "malformed-json-response"
	KindSchema    Kind = "schema-violation"
	KindInternal  Kind = "unexpected-internal-error"
)

// ParseError describes why a model response could not be used. Raw is the
// response as received and Cleaned the text that was handed to the decoder.
type ParseError struct {
	Kind    Kind
	Raw     string
	Cleaned string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("structured: %s", e.Kind)
	}
	return fmt.Sprintf("structured: %s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a *ParseError in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Clean strips markdown code fences and surrounding prose, returning the
// outermost JSON object or array candidate.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if start := strings.IndexAny(s, "{["); start > 0 {
		closer := byte('}')
		if s[start] == '[' {
			closer = ']'
		}
		if end := strings.LastIndexByte(s, closer); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

// Decode parses raw into a T. Fields T does not declare are schema
// violations. validate, when non-nil, checks required fields and value
// ranges; its errors are reported as schema violations.
func Decode[T any](raw string, validate func(*T) error) (out T, err error) {
	cleaned := Clean(raw)
	defer func() {
		if r := recover(); r != nil {
			err = &ParseError{Kind: KindInternal, Raw: raw, Cleaned: cleaned, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if cleaned == "" {
		return out, &ParseError{Kind: KindEmpty, Raw: raw, Cleaned: cleaned}
	}
	if c := cleaned[0]; c != '{' && c != '[' {
		return out, &ParseError{Kind: KindNonJSON, Raw: raw, Cleaned: cleaned, Err: errors.New("response does not contain a JSON value")}
	}

	if !json.Valid([]byte(cleaned)) {
		var v any
		perr := json.Unmarshal([]byte(cleaned), &v)
		return out, &ParseError{Kind: KindMalformed, Raw: raw, Cleaned: cleaned, Err: perr}
	}

	dec := json.NewDecoder(bytes.NewBufferString(cleaned))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, &ParseError{Kind: KindSchema, Raw: raw, Cleaned: cleaned, Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return out, &ParseError{Kind: KindMalformed, Raw: raw, Cleaned: cleaned, Err: errors.New("unexpected trailing data")}
	}
	if validate != nil {
		if err := validate(&out); err != nil {
			return out, &ParseError{Kind: KindSchema, Raw: raw, Cleaned: cleaned, Err: err}
		}
	}
	return out, nil
}

// Required returns an error naming the first empty field in pairs of
// (name, value).
func Required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("missing required field %q", pairs[i])
		}
	}
	return nil
}
