package flow

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewDocument_AssignsUUID(t *testing.T) {
	a := NewDocument(BytesBody("{}"), nil)
	b := NewDocument(BytesBody("{}"), nil)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("expected distinct non-empty IDs, got %q and %q", a.ID(), b.ID())
	}
	if v, _ := a.Attribute(AttrUUID); v != a.ID() {
		t.Errorf("expected uuid attribute %q, got %q", a.ID(), v)
	}
}

func TestDocument_Attributes(t *testing.T) {
	src := map[string]string{AttrFilename: "order.json"}
	d := NewDocumentWithID("doc-1", BytesBody("{}"), src)

	// Caller map is copied.
	src["extra"] = "x"
	if _, ok := d.Attribute("extra"); ok {
		t.Error("document must not alias the caller's attribute map")
	}

	d.SetAttribute("validation.error", "first")
	d.SetAttribute("validation.error", "second")

	want := map[string]string{
		AttrUUID:           "doc-1",
		AttrFilename:       "order.json",
		"validation.error": "second",
	}
	if diff := cmp.Diff(want, d.Attributes()); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}

	// Returned map is a copy.
	d.Attributes()["validation.error"] = "tampered"
	if v, _ := d.Attribute("validation.error"); v != "second" {
		t.Errorf("expected attribute to be unchanged, got %q", v)
	}
}

func TestDocument_ReplaceAttributes(t *testing.T) {
	d := NewDocumentWithID("doc-1", BytesBody("{}"), map[string]string{AttrFilename: "order.json"})
	before := d.Attributes()

	d.SetAttribute("validation.error", "boom")
	d.ReplaceAttributes(before)
	if diff := cmp.Diff(before, d.Attributes()); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}

	before["extra"] = "x"
	if _, ok := d.Attribute("extra"); ok {
		t.Error("document must not alias the replacement map")
	}

	// uuid cannot be replaced away.
	d.ReplaceAttributes(map[string]string{AttrUUID: "other"})
	if id, _ := d.Attribute(AttrUUID); id != "doc-1" {
		t.Errorf("expected uuid doc-1, got %q", id)
	}
}

func TestDocument_ReadBody(t *testing.T) {
	d := NewDocument(BytesBody(`{"name":"a"}`), nil)

	got, err := d.ReadBody()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"name":"a"}` {
		t.Errorf("unexpected body %q", got)
	}

	// Reading twice yields the same content.
	again, _ := d.ReadBody()
	if string(again) != string(got) {
		t.Error("body changed between reads")
	}
}

func TestDocument_FileBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content")
	if err := os.WriteFile(path, []byte(`[1]`), 0o600); err != nil {
		t.Fatal(err)
	}

	d := NewDocument(FileBody(path), nil)
	got, err := d.ReadBody()
	if err != nil || string(got) != `[1]` {
		t.Fatalf("ReadBody() = %q, %v", got, err)
	}

	missing := NewDocument(FileBody(filepath.Join(t.TempDir(), "gone")), nil)
	if _, err := missing.ReadBody(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

type failingBody struct{ err error }

func (f failingBody) Open() (io.ReadCloser, error) { return nil, f.err }

func TestDocument_ReadBodyErrors(t *testing.T) {
	boom := errors.New("storage offline")

	if _, err := NewDocument(failingBody{boom}, nil).ReadBody(); !errors.Is(err, boom) {
		t.Errorf("expected wrapped open error, got %v", err)
	}
	if _, err := NewDocument(nil, nil).ReadBody(); err == nil {
		t.Error("expected error for nil body")
	}
}

func TestDocument_String(t *testing.T) {
	d := NewDocumentWithID("doc-1", BytesBody("{}"), map[string]string{AttrFilename: "a.json"})
	if got := d.String(); got != "Document[id=doc-1,filename=a.json]" {
		t.Errorf("unexpected String(): %s", got)
	}
	if got := NewDocumentWithID("doc-2", nil, nil).String(); got != "Document[id=doc-2]" {
		t.Errorf("unexpected String(): %s", got)
	}
}
