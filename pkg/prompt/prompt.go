package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Names of the templates the credentialing pipeline renders.
const (
	HardCheck    = "hard_check"
	SoftScore    = "soft_score"
	DataMapping  = "data_mapping"
	Verification = "verification"
)

// Template is a prompt that can be loaded from YAML and rendered with
// variable interpolation. System and User are joined with a blank line
// because every backend receives a single user message.
type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	System      string `yaml:"system"`
	User        string `yaml:"user"`
}

// Load reads a single Template from a YAML file at path.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompt file %s: %w", path, err)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing prompt file %s: %w", path, err)
	}

	return &t, nil
}

// Validate checks that the Template has the minimum required fields.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("prompt name is required")
	}
	if t.System == "" && t.User == "" {
		return fmt.Errorf("prompt %q must have at least a system or user prompt", t.Name)
	}
	return nil
}

// Render applies Go text/template rendering to the System and User fields
// and returns the combined prompt text.
//
// Template variables use {{.VarName}} syntax; {{json .VarName}} emits
// indented JSON. An error is returned if a template references a variable
// not present in vars.
func (t *Template) Render(vars map[string]any) (string, error) {
	system, err := renderTemplate(t.Name+".system", t.System, vars)
	if err != nil {
		return "", fmt.Errorf("interpolating system prompt for %q: %w", t.Name, err)
	}
	user, err := renderTemplate(t.Name+".user", t.User, vars)
	if err != nil {
		return "", fmt.Errorf("interpolating user prompt for %q: %w", t.Name, err)
	}

	switch {
	case system == "":
		return user, nil
	case user == "":
		return system, nil
	}
	return system + "\n\n" + user, nil
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
}

// renderTemplate parses and executes a Go text/template with "missingkey=error"
// so that undefined variables produce an error instead of empty strings.
func renderTemplate(name, text string, vars map[string]any) (string, error) {
	if text == "" {
		return "", nil
	}

	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// Library is a named set of templates. It is read-only after construction
// and safe for concurrent use.
type Library struct {
	templates map[string]*Template
}

// Defaults returns a library holding the built-in templates.
func Defaults() *Library {
	l := &Library{templates: make(map[string]*Template, len(builtin))}
	for _, t := range builtin {
		cp := t
		l.templates[t.Name] = &cp
	}
	return l
}

// LoadDir starts from the built-in templates and overrides any whose name
// matches a .yaml or .yml file in dir.
func LoadDir(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading prompt directory %s: %w", dir, err)
	}

	l := Defaults()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		t, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("prompt file %s: %w", entry.Name(), err)
		}
		l.templates[t.Name] = t
	}

	return l, nil
}

// Get returns the template with the given name.
func (l *Library) Get(name string) (*Template, bool) {
	t, ok := l.templates[name]
	return t, ok
}

// Names returns the template names in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.templates))
	for n := range l.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render renders the named template.
func (l *Library) Render(name string, vars map[string]any) (string, error) {
	t, ok := l.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt %q not found", name)
	}
	return t.Render(vars)
}
