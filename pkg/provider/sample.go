package provider

import _ "embed"

//go:embed providers.yaml
var sampleYAML []byte

// SampleYAML returns the bundled example provider file.
func SampleYAML() []byte {
	out := make([]byte, len(sampleYAML))
	copy(out, sampleYAML)
	return out
}

// Sample returns a store holding the bundled example providers.
func Sample() *Store {
	s, err := Parse(sampleYAML)
	if err != nil {
		panic("provider: bundled sample data is invalid: " + err.Error())
	}
	return s
}
