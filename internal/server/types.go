package server

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/compliance"
)

// MaxBulkRacks bounds one bulk validation request.
const MaxBulkRacks = 500

var validate = validator.New()

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// ImportRequest registers a rack file or every rack file under a directory.
type ImportRequest struct {
	Path string `json:"path" validate:"required"`
	ID   string `json:"id,omitempty" validate:"omitempty,max=128"`
}

func (r *ImportRequest) Validate() error {
	return validate.Struct(r)
}

// AnalyzeRequest is the optional body of POST /v1/racks/:id/analyze.
type AnalyzeRequest struct {
	Force bool `json:"force"`
}

// BulkValidateRequest lists racks to validate in one call.
type BulkValidateRequest struct {
	RackIDs []string `json:"rack_ids" validate:"required,min=1,max=500,dive,required"`
}

func (r *BulkValidateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("rack_ids must hold 1 to %d non-empty ids: %w", MaxBulkRacks, err)
	}
	return nil
}

// RackListResponse is returned by GET /v1/racks.
type RackListResponse struct {
	Racks []RackEntry `json:"racks"`
	Count int         `json:"count"`
}

// RackEntry is one rack with its latest analysis state.
type RackEntry struct {
	chain.Rack
	Analyzed  bool `json:"analyzed"`
	Complete  bool `json:"analysis_complete"`
	Compliant bool `json:"constitutional_compliant"`
	Chains    int  `json:"total_chains_detected"`
}

// ImportResponse lists the racks registered by an import.
type ImportResponse struct {
	Racks []chain.Rack `json:"racks"`
	Count int          `json:"count"`
}

// BulkValidateResponse carries per-rack verdicts.
type BulkValidateResponse struct {
	Results   []compliance.BulkResult `json:"results"`
	Compliant int                     `json:"compliant"`
	Total     int                     `json:"total"`
}

// InvalidateResponse names the cache keys that were dropped.
type InvalidateResponse struct {
	RackID string   `json:"rack_id"`
	Keys   []string `json:"invalidated_keys"`
}
