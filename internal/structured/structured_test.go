package structured

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type block struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func validBlock(b *block) error {
	return Required("type", b.Type, "text", b.Text)
}

func TestDecodeClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{name: "empty", raw: "   ", kind: KindEmpty},
		{name: "prose", raw: "I think this is a paragraph.", kind: KindNonJSON},
		{name: "single quotes", raw: "{'type': 'paragraph', 'text': 'Hello'}", kind: KindMalformed},
		{name: "truncated", raw: `{"type": "paragraph", "text": "Hel`, kind: KindMalformed},
		{name: "wrong type", raw: `{"type": 3, "text": "Hello"}`, kind: KindSchema},
		{name: "undeclared field", raw: `{"type": "paragraph", "text": "Hello", "confidence": 0.9}`, kind: KindSchema},
		{name: "missing field", raw: `{"type": "paragraph"}`, kind: KindSchema},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.raw, validBlock)
			require.Error(t, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			require.Equal(t, tc.kind, pe.Kind)
			require.Equal(t, tc.raw, pe.Raw)
		})
	}
}

func TestDecodeStripsFencesAndProse(t *testing.T) {
	t.Parallel()

	raw := "Here you go:\n```json\n{\"type\": \"heading\", \"text\": \"Intro\"}\n```"
	got, err := Decode(raw, validBlock)
	require.NoError(t, err)
	require.Equal(t, block{Type: "heading", Text: "Intro"}, got)

	got, err = Decode(`Sure. {"type": "caption", "text": "Fig 1"} Hope that helps`, validBlock)
	require.NoError(t, err)
	require.Equal(t, "caption", got.Type)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	_, err := Decode[block]("", nil)
	require.Equal(t, KindEmpty, KindOf(err))
	require.Equal(t, Kind(""), KindOf(errors.New("other")))
}
