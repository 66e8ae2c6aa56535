package credential

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// scorePattern matches a standalone integer 1-5.
var scorePattern = regexp.MustCompile(`\b([1-5])\b`)

// objectPattern grabs the outermost {...} span of a response that wraps its
// JSON in prose or code fences.
var objectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ParseHard reads a pass/fail verdict. "fail" anywhere in the text wins over
// "pass"; ok is false when neither word appears.
func ParseHard(text string) (passed, ok bool) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "fail"):
		return false, true
	case strings.Contains(lower, "pass"):
		return true, true
	}
	return false, false
}

// ParseSoft returns the first standalone digit 1-5 in text.
func ParseSoft(text string) (score int, ok bool) {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

const mappingSchemaJSON = `{
  "type": "object",
  "minProperties": 1,
  "additionalProperties": {
    "type": "object",
    "required": ["data_fields"],
    "properties": {
      "data_fields": {"type": "array", "items": {"type": "string"}},
      "mapping_confidence": {"type": "number", "minimum": 0, "maximum": 1},
      "reasoning": {"type": "string"}
    }
  }
}`

const verificationSchemaJSON = `{
  "type": "object",
  "required": ["verification_status"],
  "properties": {
    "verification_status": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var (
	mappingSchema      = mustCompile("mapping.json", mappingSchemaJSON)
	verificationSchema = mustCompile("verification.json", verificationSchemaJSON)
)

func mustCompile(name, doc string) *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(doc), &schemaDoc); err != nil {
		panic(fmt.Sprintf("invalid JSON schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("invalid JSON schema %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compiling JSON schema %s: %v", name, err))
	}
	return sch
}

// decodeObject extracts the JSON object embedded in an LLM response and
// validates it against sch.
func decodeObject(content string, sch *jsonschema.Schema) (map[string]any, error) {
	raw := strings.TrimSpace(content)
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		span := objectPattern.FindString(raw)
		if span == "" {
			return nil, fmt.Errorf("no JSON object in response")
		}
		if err := json.Unmarshal([]byte(span), &v); err != nil {
			return nil, fmt.Errorf("response is not valid JSON: %w", err)
		}
	}

	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("response does not match schema: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	return obj, nil
}
