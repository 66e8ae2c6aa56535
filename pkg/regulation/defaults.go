package regulation

import _ "embed"

//go:embed regulations.yaml
var defaultYAML []byte

// DefaultYAML returns the built-in rule book in its file form.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultYAML))
	copy(out, defaultYAML)
	return out
}

// Default returns the built-in rule book used when no regulations file is
// configured.
func Default() *Set {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic("regulation: built-in rule book is invalid: " + err.Error())
	}
	return s
}
