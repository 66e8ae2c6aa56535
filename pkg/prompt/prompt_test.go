package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	content := `name: hard_check
description: Stricter hard check
system: "You are a strict reviewer."
user: "Regulation {{.RegulationID}}: answer PASS or FAIL."
`
	path := filepath.Join(dir, "hard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if p.Name != HardCheck {
		t.Errorf("Name = %q, want %q", p.Name, HardCheck)
	}
	if p.System != "You are a strict reviewer." {
		t.Errorf("System = %q", p.System)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    Template
		wantErr bool
	}{
		{"valid", Template{Name: "a", User: "u"}, false},
		{"system only", Template{Name: "a", System: "s"}, false},
		{"no name", Template{User: "u"}, true},
		{"no text", Template{Name: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRender(t *testing.T) {
	tmpl := Template{
		Name:   "t",
		System: "Hi {{.Name}}.",
		User:   "Data:\n{{json .Data}}",
	}
	got, err := tmpl.Render(map[string]any{
		"Name": "Ada",
		"Data": map[string]any{"k": 1},
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	want := "Hi Ada.\n\nData:\n{\n  \"k\": 1\n}"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRender_MissingKey(t *testing.T) {
	tmpl := Template{Name: "t", User: "{{.Absent}}"}
	if _, err := tmpl.Render(map[string]any{}); err == nil {
		t.Fatal("Render() should fail on a missing variable")
	}
}

func TestDefaults_Render(t *testing.T) {
	lib := Defaults()
	vars := map[string]any{
		"RegulationID":   "HR001",
		"RegulationName": "Medical License",
		"Criteria":       map[string]any{"license_status": "active"},
		"Provider":       map[string]any{"provider_id": "DR001"},
		"Relevant":       map[string]any{"ProfessionalIds": map[string]any{"license_number": "X"}},
		"Regulations":    []string{"HR001"},
		"Response":       map[string]any{"license_verification": "Verified"},
	}

	tests := []struct {
		name     string
		contains []string
	}{
		{HardCheck, []string{"HR001 - Medical License", `"PASS"`, `"FAIL"`, "license_number"}},
		{SoftScore, []string{"1 to 5", "HR001"}},
		{DataMapping, []string{"mapping_confidence", "data_fields", "DR001"}},
		{Verification, []string{"verification_status", "license_verification"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lib.Render(tt.name, vars)
			if err != nil {
				t.Fatalf("Render(%s) error: %v", tt.name, err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Render(%s) missing %q", tt.name, s)
				}
			}
		})
	}

	if _, err := lib.Render("unknown", vars); err == nil {
		t.Error("Render(unknown) should fail")
	}
}

func TestLoadDir_Overrides(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"soft.yaml":  "name: soft_score\nuser: \"Score {{.RegulationID}} from 1 to 5.\"\n",
		"extra.yml":  "name: extra\nsystem: extra prompt\n",
		"readme.txt": "ignored",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	lib, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	got, err := lib.Render(SoftScore, map[string]any{"RegulationID": "SR001"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if got != "Score SR001 from 1 to 5." {
		t.Errorf("override not applied: %q", got)
	}
	if _, ok := lib.Get(HardCheck); !ok {
		t.Error("built-in hard_check should survive")
	}
	if names := lib.Names(); len(names) != 5 {
		t.Errorf("Names() = %v, want 5 entries", names)
	}
}

func TestLoadDir_Invalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("description: no name\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDir(dir); err == nil {
		t.Fatal("LoadDir() should reject a template without a name")
	}
}
