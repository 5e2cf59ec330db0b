package answer

// CommandKind names a learner action on an answer session.
type CommandKind string

const (
	CommandStart    CommandKind = "start"
	CommandChunk    CommandKind = "chunk"
	CommandStop     CommandKind = "stop"
	CommandEdit     CommandKind = "edit"
	CommandFinalize CommandKind = "finalize"
	CommandReset    CommandKind = "reset"
)

// Valid reports whether k is a known command kind.
func (k CommandKind) Valid() bool {
	switch k {
	case CommandStart, CommandChunk, CommandStop, CommandEdit, CommandFinalize, CommandReset:
		return true
	}
	return false
}

// Command is one action, with the chunk text or edit instruction in Text.
type Command struct {
	Kind CommandKind
	Text string
}
