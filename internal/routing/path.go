// Package routing maps validation verdicts onto the stage's successor paths.
package routing

import "fmt"

// ErrorAttribute holds the diagnostic of a document routed to Invalid.
const ErrorAttribute = "validation.error"

// Path is a successor path of the stage.
type Path int

const (
	// Valid receives documents that passed validation.
	Valid Path = iota
	// Invalid receives documents that failed validation.
	Invalid
)

// String returns the relationship name.
func (p Path) String() string {
	switch p {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// Relationship describes a declared successor path.
type Relationship struct {
	Path        Path   `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var relationships = []Relationship{
	{
		Path:        Valid,
		Name:        Valid.String(),
		Description: "Documents that have been successfully validated are transferred to this relationship",
	},
	{
		Path:        Invalid,
		Name:        Invalid.String(),
		Description: "Documents with unsuccessful validation are transferred to this relationship",
	},
}

// Paths returns every successor path.
func Paths() []Path {
	return []Path{Valid, Invalid}
}

// Relationships returns the declared successor paths with descriptions.
func Relationships() []Relationship {
	out := make([]Relationship, len(relationships))
	copy(out, relationships)
	return out
}
