package schema

import (
	"fmt"
	"strings"
)

// Kind classifies a verdict.
type Kind int

const (
	// KindValid - document satisfied every constraint.
	KindValid Kind = iota
	// KindParseFailure - document body is not well-formed JSON.
	KindParseFailure
	// KindSchemaViolation - document parsed but broke one or more constraints.
	KindSchemaViolation
	// KindUnreadable - document body could not be read.
	KindUnreadable
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindValid:
		return "valid"
	case KindParseFailure:
		return "parse_failure"
	case KindSchemaViolation:
		return "schema_violation"
	case KindUnreadable:
		return "unreadable"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// MarshalText encodes the kind as its label.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Violation is a single failed constraint.
type Violation struct {
	InstanceLocation string `json:"instanceLocation"`
	Keyword          string `json:"keyword"`
	Message          string `json:"message"`
}

func (v Violation) String() string {
	return v.InstanceLocation + ": " + v.Message
}

// Verdict is the outcome of validating one document.
type Verdict struct {
	Kind       Kind        `json:"kind"`
	Diagnostic string      `json:"diagnostic,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
}

// Valid returns the verdict for a document that passed validation.
func Valid() Verdict {
	return Verdict{Kind: KindValid}
}

// ParseFailure returns the verdict for a body that is not JSON.
func ParseFailure(err error) Verdict {
	return Verdict{
		Kind:       KindParseFailure,
		Diagnostic: "malformed JSON document: " + err.Error(),
	}
}

// Unreadable returns the verdict for a body that could not be read.
func Unreadable(err error) Verdict {
	return Verdict{
		Kind:       KindUnreadable,
		Diagnostic: "document body unreadable: " + err.Error(),
	}
}

// SchemaViolation returns the verdict for a document that broke constraints.
// violations must not be empty.
func SchemaViolation(violations []Violation) Verdict {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.String())
	}
	return Verdict{
		Kind:       KindSchemaViolation,
		Diagnostic: "schema validation failed: " + strings.Join(parts, "; "),
		Violations: violations,
	}
}

// IsValid reports whether the document passed.
func (v Verdict) IsValid() bool {
	return v.Kind == KindValid
}
