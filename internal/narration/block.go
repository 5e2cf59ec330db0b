package narration

import (
	"errors"
	"strings"

	"github.com/ashureev/tutor-core/internal/codec"
	"github.com/ashureev/tutor-core/internal/structured"
)

// TypeUnknown labels a block whose classification failed.
const TypeUnknown = "unknown"

// Block is a classified piece of a document.
type Block struct {
	Type        string
	Text        string
	Container   string
	Annotations map[string]any
}

// Placeholder keeps the original text of a block that could not be
// classified, annotated with why.
func Placeholder(original, container string, err error) Block {
	ann := map[string]any{"error_kind": string(structured.KindInternal), "error": err.Error()}
	var pe *structured.ParseError
	if errors.As(err, &pe) {
		ann["error_kind"] = string(pe.Kind)
		ann["raw_output"] = pe.Raw
		ann["cleaned_output"] = pe.Cleaned
	}
	return Block{Type: TypeUnknown, Text: original, Container: container, Annotations: ann}
}

// Degraded reports whether b is a placeholder.
func (b Block) Degraded() bool {
	return b.Type == TypeUnknown && b.Annotations["error_kind"] != nil
}

// ImmediateContainer returns the innermost element of a heading path such as
// "Chapter 2 > Cells > Mitochondria".
func ImmediateContainer(path string) string {
	parts := strings.Split(path, ">")
	return strings.TrimSpace(parts[len(parts)-1])
}

// BlockTag is the codec tag of Block.
const BlockTag = "narration.block"

// RegisterTypes registers Block with c.
func RegisterTypes(c *codec.Codec) {
	codec.Register(c, BlockTag,
		func(b Block) map[string]any {
			fields := map[string]any{"type": b.Type, "text": b.Text}
			if b.Container != "" {
				fields["container"] = b.Container
			}
			if len(b.Annotations) > 0 {
				fields["annotations"] = b.Annotations
			}
			return fields
		},
		func(m map[string]any) (Block, error) {
			return Block{
				Type:        codec.String(m, "type"),
				Text:        codec.String(m, "text"),
				Container:   codec.String(m, "container"),
				Annotations: codec.Map(m, "annotations"),
			}, nil
		})
}
