// Package flow defines the documents that move through the pipeline.
package flow

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Standard attribute keys.
const (
	AttrUUID           = "uuid"
	AttrFilename       = "filename"
	AttrKafkaTopic     = "kafka.topic"
	AttrKafkaPartition = "kafka.partition"
	AttrKafkaOffset    = "kafka.offset"
	AttrKafkaKey       = "kafka.key"
)

// Body gives access to a document's content as a byte stream.
type Body interface {
	Open() (io.ReadCloser, error)
}

// BytesBody is an in-memory body.
type BytesBody []byte

// Open returns a reader over the bytes.
func (b BytesBody) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// FileBody is a body stored in a content file on disk.
type FileBody string

// Open opens the content file.
func (f FileBody) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}

// Document is a unit of content plus attributes.
// Attribute access is safe for concurrent use; the body is never modified.
type Document struct {
	id   string
	body Body

	mu    sync.RWMutex
	attrs map[string]string
}

// NewDocument creates a document with a fresh UUID.
func NewDocument(body Body, attrs map[string]string) *Document {
	return NewDocumentWithID(uuid.NewString(), body, attrs)
}

// NewDocumentWithID creates a document with a caller-supplied ID.
func NewDocumentWithID(id string, body Body, attrs map[string]string) *Document {
	a := make(map[string]string, len(attrs)+1)
	maps.Copy(a, attrs)
	a[AttrUUID] = id
	return &Document{
		id:    id,
		body:  body,
		attrs: a,
	}
}

// ID returns the document ID.
func (d *Document) ID() string {
	return d.id
}

// Attribute returns the value stored under key.
func (d *Document) Attribute(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.attrs[key]
	return v, ok
}

// SetAttribute stores value under key, replacing any previous value.
func (d *Document) SetAttribute(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[key] = value
}

// Attributes returns a copy of all attributes.
func (d *Document) Attributes() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.attrs)
}

// ReplaceAttributes swaps every attribute for a copy of attrs. The uuid
// attribute always keeps the document ID.
func (d *Document) ReplaceAttributes(attrs map[string]string) {
	a := make(map[string]string, len(attrs)+1)
	maps.Copy(a, attrs)
	a[AttrUUID] = d.id

	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs = a
}

// Body returns the document body.
func (d *Document) Body() Body {
	return d.body
}

// ReadBody reads the whole body.
func (d *Document) ReadBody() ([]byte, error) {
	if d.body == nil {
		return nil, fmt.Errorf("document %s has no body", d.id)
	}
	rc, err := d.body.Open()
	if err != nil {
		return nil, fmt.Errorf("open body of document %s: %w", d.id, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read body of document %s: %w", d.id, err)
	}
	return data, nil
}

// String identifies the document in logs.
func (d *Document) String() string {
	if name, ok := d.Attribute(AttrFilename); ok {
		return fmt.Sprintf("Document[id=%s,filename=%s]", d.id, name)
	}
	return fmt.Sprintf("Document[id=%s]", d.id)
}
