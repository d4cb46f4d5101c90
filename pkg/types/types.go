package types

import "encoding/json"

// Status is the outcome of a stage or of the whole pipeline
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Provenance tells whether a classification came from a trained artifact or the stand-in network
type Provenance string

const (
	ProvenanceTrained Provenance = "trained"
	ProvenanceMock    Provenance = "mock"
)

// ClassificationResult is the outcome of the detection stage
type ClassificationResult struct {
	IsSynthetic bool       `json:"is_synthetic"`
	Confidence  float64    `json:"confidence"`
	RawScore    float64    `json:"raw_score"`
	Provenance  Provenance `json:"provenance,omitempty"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// RegenerationResult is the outcome of the regeneration stage
type RegenerationResult struct {
	Success    bool    `json:"success"`
	OutputPath *string `json:"output_path"`
	Variant    string  `json:"variant,omitempty"`
	Status     Status  `json:"status"`
	Error      string  `json:"error,omitempty"`
}

// PipelineResult is the single record emitted per invocation.
// Regeneration is nil when the image was classified authentic.
type PipelineResult struct {
	Classification *ClassificationResult `json:"classification"`
	Regeneration   *RegenerationResult   `json:"regeneration"`
	PipelineStatus Status                `json:"pipeline_status"`
	Error          string                `json:"error,omitempty"`
}

// ErrorRecord is the minimal record written for terminal failures
type ErrorRecord struct {
	PipelineStatus Status `json:"pipeline_status"`
	Error          string `json:"error"`
}

// NewErrorResult builds a terminal pipeline failure
func NewErrorResult(err error) *PipelineResult {
	return &PipelineResult{PipelineStatus: StatusError, Error: err.Error()}
}

// ClassificationError builds a failed classification record
func ClassificationError(err error) ClassificationResult {
	return ClassificationResult{Status: StatusError, Error: err.Error()}
}

// RegenerationError builds a failed regeneration record
func RegenerationError(err error) *RegenerationResult {
	return &RegenerationResult{Status: StatusError, Error: err.Error()}
}

// Succeeded reports whether the pipeline completed
func (r *PipelineResult) Succeeded() bool {
	return r != nil && r.PipelineStatus == StatusSuccess
}

// MarshalJSON writes the minimal error record for terminal failures and the full record otherwise
func (r PipelineResult) MarshalJSON() ([]byte, error) {
	if r.PipelineStatus == StatusError {
		return json.Marshal(ErrorRecord{PipelineStatus: StatusError, Error: r.Error})
	}
	type full PipelineResult
	return json.Marshal(full(r))
}
