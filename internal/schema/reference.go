package schema

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyReference is returned when a schema reference is blank.
var ErrEmptyReference = errors.New("schema reference must not be empty")

// Reference names where a schema document can be found.
// It is either a file path or an inline JSON Schema document.
type Reference string

// Validate rejects empty or whitespace-only references.
func (r Reference) Validate() error {
	if strings.TrimSpace(string(r)) == "" {
		return ErrEmptyReference
	}
	return nil
}

// IsInline reports whether the reference carries the schema document itself.
func (r Reference) IsInline() bool {
	return strings.HasPrefix(strings.TrimSpace(string(r)), "{")
}

// String returns a loggable form of the reference. Inline documents are
// shortened so log lines stay readable.
func (r Reference) String() string {
	if r.IsInline() {
		s := strings.Join(strings.Fields(string(r)), " ")
		if len(s) > 64 {
			return "inline:" + s[:64] + "..."
		}
		return "inline:" + s
	}
	return string(r)
}

// Resolver retrieves the raw schema source for a reference.
type Resolver interface {
	Resolve(ctx context.Context, ref Reference) ([]byte, error)
}

// FileResolver reads schema documents from the local filesystem.
// Relative paths are resolved against BaseDir when it is set.
type FileResolver struct {
	BaseDir string
}

// Path returns the filesystem path a reference points to.
func (f FileResolver) Path(ref Reference) string {
	p := strings.TrimSpace(string(ref))
	if f.BaseDir != "" && !filepath.IsAbs(p) {
		p = filepath.Join(f.BaseDir, p)
	}
	return p
}

// Resolve reads the referenced file.
func (f FileResolver) Resolve(ctx context.Context, ref Reference) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path(ref))
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return data, nil
}

// InlineResolver returns the reference text as the schema document.
type InlineResolver struct{}

// Resolve returns the reference bytes unchanged.
func (InlineResolver) Resolve(_ context.Context, ref Reference) ([]byte, error) {
	return []byte(ref), nil
}

// DefaultResolver resolves inline documents directly and everything else
// through Files.
type DefaultResolver struct {
	Files FileResolver
}

// Resolve dispatches on the shape of the reference.
func (d DefaultResolver) Resolve(ctx context.Context, ref Reference) ([]byte, error) {
	if ref.IsInline() {
		return InlineResolver{}.Resolve(ctx, ref)
	}
	return d.Files.Resolve(ctx, ref)
}
