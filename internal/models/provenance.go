// Package models defines the wire types published to Kafka and served over HTTP.
package models

// ProvenanceRecord is the wire form of a lineage event.
type ProvenanceRecord struct {
	EventType    string `json:"eventType"`
	DocumentID   string `json:"documentId"`
	Relationship string `json:"relationship"`
	Details      string `json:"details,omitempty"`
	Component    string `json:"component"`
	Principal    string `json:"principal"`
	Timestamp    int64  `json:"timestamp"`
}

// ValidationResponse is returned by the dry-run validation endpoint.
type ValidationResponse struct {
	Valid        bool                `json:"valid"`
	Kind         string              `json:"kind"`
	Relationship string              `json:"relationship"`
	Diagnostic   string              `json:"diagnostic,omitempty"`
	Violations   []ValidationProblem `json:"violations,omitempty"`
}

// ValidationProblem is one failed constraint in a ValidationResponse.
type ValidationProblem struct {
	InstanceLocation string `json:"instanceLocation"`
	Keyword          string `json:"keyword"`
	Message          string `json:"message"`
}
