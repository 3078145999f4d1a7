package resource

import "strings"

type Value = any

// Kind tags a family of resources. Each kind has exactly one adapter,
// registered at process start.
type Kind string

func (k Kind) String() string {
	return string(k)
}

// Identifier uniquely names one resource instance within its kind.
// Composite keys are joined with "/".
type Identifier string

func (i Identifier) String() string {
	return string(i)
}

func JoinIdentifier(parts ...string) Identifier {
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed = append(trimmed, strings.TrimSpace(part))
	}
	return Identifier(strings.Join(trimmed, "/"))
}

// Declaration pairs a raw declaration mapping as authored with the
// normalized write-object sent to the backend. Declarations are owned by
// the caller for the duration of one run and never persisted here.
type Declaration struct {
	Kind  Kind
	Raw   map[string]any
	Write map[string]any
}

type DiffEntry struct {
	Identifier Identifier
	Path       string
	Operation  string
	Local      Value
	Remote     Value
}
