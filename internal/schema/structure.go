package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// structureSource describes the shape every accepted schema must have. It
// covers the keywords whose values the evaluator trusts without checking.
const structureSource = `{
	"$defs": {
		"schema": {
			"type": ["object", "boolean"],
			"properties": {
				"$id": {"type": "string"},
				"$schema": {"type": "string"},
				"$ref": {"type": "string"},
				"$anchor": {"type": "string"},
				"$dynamicRef": {"type": "string"},
				"$dynamicAnchor": {"type": "string"},
				"$defs": {"$ref": "#/$defs/schemaMap"},
				"type": {
					"anyOf": [
						{"$ref": "#/$defs/simpleType"},
						{"type": "array", "items": {"$ref": "#/$defs/simpleType"}, "minItems": 1, "uniqueItems": true}
					]
				},
				"enum": {"type": "array"},
				"properties": {"$ref": "#/$defs/schemaMap"},
				"patternProperties": {"$ref": "#/$defs/schemaMap"},
				"dependentSchemas": {"$ref": "#/$defs/schemaMap"},
				"additionalProperties": {"$ref": "#/$defs/schema"},
				"propertyNames": {"$ref": "#/$defs/schema"},
				"unevaluatedProperties": {"$ref": "#/$defs/schema"},
				"items": {"$ref": "#/$defs/schema"},
				"contains": {"$ref": "#/$defs/schema"},
				"unevaluatedItems": {"$ref": "#/$defs/schema"},
				"not": {"$ref": "#/$defs/schema"},
				"if": {"$ref": "#/$defs/schema"},
				"then": {"$ref": "#/$defs/schema"},
				"else": {"$ref": "#/$defs/schema"},
				"allOf": {"$ref": "#/$defs/schemaArray"},
				"anyOf": {"$ref": "#/$defs/schemaArray"},
				"oneOf": {"$ref": "#/$defs/schemaArray"},
				"prefixItems": {"$ref": "#/$defs/schemaArray"},
				"required": {"$ref": "#/$defs/stringArray"},
				"dependentRequired": {"type": "object", "additionalProperties": {"$ref": "#/$defs/stringArray"}},
				"minLength": {"$ref": "#/$defs/count"},
				"maxLength": {"$ref": "#/$defs/count"},
				"minItems": {"$ref": "#/$defs/count"},
				"maxItems": {"$ref": "#/$defs/count"},
				"minContains": {"$ref": "#/$defs/count"},
				"maxContains": {"$ref": "#/$defs/count"},
				"minProperties": {"$ref": "#/$defs/count"},
				"maxProperties": {"$ref": "#/$defs/count"},
				"minimum": {"type": "number"},
				"maximum": {"type": "number"},
				"exclusiveMinimum": {"type": "number"},
				"exclusiveMaximum": {"type": "number"},
				"multipleOf": {"type": "number", "exclusiveMinimum": 0},
				"uniqueItems": {"type": "boolean"},
				"pattern": {"type": "string"},
				"format": {"type": "string"}
			}
		},
		"schemaMap": {"type": "object", "additionalProperties": {"$ref": "#/$defs/schema"}},
		"schemaArray": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/schema"}},
		"stringArray": {"type": "array", "items": {"type": "string"}, "uniqueItems": true},
		"count": {"type": "integer", "minimum": 0},
		"simpleType": {"enum": ["array", "boolean", "integer", "null", "number", "object", "string"]}
	},
	"$ref": "#/$defs/schema"
}`

var structureSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	s, err := jsonschema.NewCompiler().Compile([]byte(structureSource))
	if err != nil {
		return nil, err
	}
	if uris := s.GetUnresolvedReferenceURIs(); len(uris) > 0 {
		return nil, fmt.Errorf("unresolved references %s", strings.Join(uris, ", "))
	}
	return s, nil
})

type structureError struct{ err error }

func (e structureError) Error() string { return e.err.Error() }
func (e structureError) Unwrap() error { return e.err }

// checkStructure rejects schemas whose keyword values the evaluator would
// misread: unknown type names, negative counts, non-schema subschemas,
// patterns that do not compile and format names no validator exists for.
func checkStructure(root any) error {
	meta, err := structureSchema()
	if err != nil {
		return fmt.Errorf("structure schema: %w", err)
	}
	if result := meta.Validate(root); !result.IsValid() {
		violations := collectViolations(result, root)
		parts := make([]string, 0, len(violations))
		for _, v := range violations {
			parts = append(parts, v.String())
		}
		if len(parts) == 0 {
			parts = append(parts, "schema is malformed")
		}
		return structureError{fmt.Errorf("malformed schema: %s", strings.Join(parts, "; "))}
	}

	var problems []string
	walkKeywords(root, "", func(loc, keyword string, value any) {
		switch keyword {
		case "pattern":
			if p, ok := value.(string); ok {
				if _, err := regexp.Compile(p); err != nil {
					problems = append(problems, fmt.Sprintf("%s/pattern: %v", loc, err))
				}
			}
		case "patternProperties":
			if m, ok := value.(map[string]any); ok {
				for p := range m {
					if _, err := regexp.Compile(p); err != nil {
						problems = append(problems, fmt.Sprintf("%s/patternProperties: %v", loc, err))
					}
				}
			}
		case "format":
			if f, ok := value.(string); ok {
				if _, known := jsonschema.Formats[f]; !known {
					problems = append(problems, fmt.Sprintf("%s/format: unknown format %q", loc, f))
				}
			}
		}
	})
	if len(problems) > 0 {
		sort.Strings(problems)
		return structureError{fmt.Errorf("malformed schema: %s", strings.Join(problems, "; "))}
	}
	return nil
}

// literalKeywords hold instance data rather than subschemas.
var literalKeywords = map[string]bool{
	"enum":     true,
	"const":    true,
	"default":  true,
	"examples": true,
}

// walkKeywords calls fn for every keyword of every schema object under v.
// Maps keyed by property name are descended into but not reported.
func walkKeywords(v any, loc string, fn func(loc, keyword string, value any)) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			fn(loc, k, child)
			if literalKeywords[k] {
				continue
			}
			switch k {
			case "properties", "patternProperties", "$defs", "dependentSchemas":
				if m, ok := child.(map[string]any); ok {
					for name, sub := range m {
						walkKeywords(sub, loc+"/"+k+"/"+name, fn)
					}
				}
			default:
				walkKeywords(child, loc+"/"+k, fn)
			}
		}
	case []any:
		for i, child := range node {
			walkKeywords(child, fmt.Sprintf("%s/%d", loc, i), fn)
		}
	}
}
