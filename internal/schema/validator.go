package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonschema"
)

// Validate checks body against the compiled schema. Malformed JSON and
// constraint failures are reported through the verdict, never as errors.
// Validate keeps no state between calls and is safe for concurrent use.
func Validate(c *Compiled, body []byte) Verdict {
	instance, err := decodeInstance(body)
	if err != nil {
		return ParseFailure(err)
	}

	result := c.schema.Validate(instance)
	if result.IsValid() {
		return Valid()
	}

	violations := collectViolations(result, instance)
	if len(violations) == 0 {
		// The evaluator flagged the instance without naming a keyword.
		violations = []Violation{{
			InstanceLocation: "/",
			Keyword:          "schema",
			Message:          "document does not match the schema",
		}}
	}
	return SchemaViolation(violations)
}

// ValidateReader reads r fully and validates the content. A read failure is
// returned as an error because the document was never evaluated.
func ValidateReader(c *Compiled, r io.Reader) (Verdict, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return Verdict{}, fmt.Errorf("read document body: %w", err)
	}
	return Validate(c, body), nil
}

// decodeInstance parses body keeping numbers exact. Integers a float64
// cannot hold stay int64 so minimum, maximum and multipleOf compare the
// value the document actually carries.
func decodeInstance(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var instance any
	if err := dec.Decode(&instance); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return nil, err
	}
	return normalizeNumbers(instance), nil
}

// maxExactFloat is the largest integer magnitude float64 represents exactly.
const maxExactFloat = 1 << 53

func normalizeNumbers(v any) any {
	switch node := v.(type) {
	case json.Number:
		s := node.String()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			if i > maxExactFloat || i < -maxExactFloat {
				return i
			}
			return float64(i)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return node
		}
		return f
	case map[string]any:
		for k, child := range node {
			node[k] = normalizeNumbers(child)
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = normalizeNumbers(child)
		}
		return node
	default:
		return v
	}
}

// collectViolations flattens the evaluation tree, ordered by instance
// location then keyword, without duplicates. The evaluator records each
// location relative to its parent result, so locations are joined on the
// way down. Results for locations the instance does not have are dropped:
// required but missing properties are also checked against their subschema
// as null, and the required keyword already reports them.
func collectViolations(root *jsonschema.EvaluationResult, instance any) []Violation {
	var out []Violation
	seen := make(map[Violation]struct{})

	var walk func(r *jsonschema.EvaluationResult, base string)
	walk = func(r *jsonschema.EvaluationResult, base string) {
		if r == nil {
			return
		}
		loc := joinLocation(base, r.InstanceLocation)
		if !hasLocation(instance, loc) {
			return
		}
		for keyword, e := range r.Errors {
			if keyword == "properties" && !hasPresentFailure(r, loc, instance) {
				continue
			}
			v := Violation{
				InstanceLocation: instanceLocation(loc),
				Keyword:          keyword,
				Message:          e.Error(),
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
		for _, d := range r.Details {
			walk(d, loc)
		}
	}
	walk(root, "")

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InstanceLocation != out[j].InstanceLocation {
			return out[i].InstanceLocation < out[j].InstanceLocation
		}
		if out[i].Keyword != out[j].Keyword {
			return out[i].Keyword < out[j].Keyword
		}
		return out[i].Message < out[j].Message
	})
	return out
}

func joinLocation(base, rel string) string {
	if rel == "" || rel == "#" || rel == "/" {
		return base
	}
	return base + rel
}

// hasPresentFailure reports whether a failed child of r, at loc, sits at a
// location the instance has.
func hasPresentFailure(r *jsonschema.EvaluationResult, loc string, instance any) bool {
	for _, d := range r.Details {
		if d == nil || d.Valid || joinLocation(loc, d.InstanceLocation) == loc {
			continue
		}
		if hasLocation(instance, joinLocation(loc, d.InstanceLocation)) {
			return true
		}
	}
	return false
}

// hasLocation resolves the JSON pointer loc against instance.
func hasLocation(instance any, loc string) bool {
	loc = strings.TrimPrefix(loc, "#")
	if loc == "" || loc == "/" {
		return true
	}
	node := instance
	for _, token := range strings.Split(strings.TrimPrefix(loc, "/"), "/") {
		token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[token]
			if !ok {
				return false
			}
			node = child
		case []any:
			i, err := strconv.Atoi(token)
			if err != nil || i < 0 || i >= len(n) {
				return false
			}
			node = n[i]
		default:
			return false
		}
	}
	return true
}

func instanceLocation(loc string) string {
	if loc == "" || loc == "#" {
		return "/"
	}
	return loc
}
