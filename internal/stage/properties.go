package stage

import (
	"fmt"
	"sort"
	"strings"
)

// PropertySchemaReference names the schema used for every validation.
const PropertySchemaReference = "schema_reference"

// Property describes one configuration option of the stage.
type Property struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Properties returns the configuration surface of the stage.
func Properties() []Property {
	return []Property{{
		Name:        PropertySchemaReference,
		Description: "Path of the JSON Schema file, or the schema document itself, used to validate every document",
		Required:    true,
	}}
}

// ValidateProperties checks that every required property is present and
// non-empty and that no unknown property is set.
func ValidateProperties(props map[string]string) error {
	known := make(map[string]Property)
	for _, p := range Properties() {
		known[p.Name] = p
		if p.Required && strings.TrimSpace(props[p.Name]) == "" {
			return fmt.Errorf("%w: %s is required and must not be empty", ErrInvalidProperty, p.Name)
		}
	}

	var unknown []string
	for name := range props {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown properties %s", ErrInvalidProperty, strings.Join(unknown, ", "))
	}
	return nil
}
