package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/rasterkit/internal/filter"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

type CreateJobRequest struct {
	SourceType string `json:"source_type"`
	WebhookURL string `json:"webhook_url,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
	OutputKey  string `json:"output_key,omitempty"`
	Filter     string `json:"filter"`
	Length     int    `json:"length,omitempty"`
}

// FilterStep names the filter a job applies and its optional length.
type FilterStep struct {
	Filter string `json:"filter"`
	Length int    `json:"length,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKey  string
	OutputKey  string
	Step       FilterStep
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.OutputKey) != "" {
		return errors.New("output_key is not accepted for source_type=local_file")
	}
	return r.Step().Validate()
}

// Step returns the requested filter step. Known names, aliases included, are
// rewritten to their canonical spelling; unknown names are kept for Validate
// to report.
func (r CreateJobRequest) Step() FilterStep {
	name := strings.ToLower(strings.TrimSpace(r.Filter))
	if kind, err := filter.Lookup(name); err == nil {
		name = kind.String()
	}
	return FilterStep{Filter: name, Length: r.Length}
}

func (s FilterStep) Validate() error {
	if strings.TrimSpace(s.Filter) == "" {
		return errors.New("filter is required")
	}
	kind, err := filter.Lookup(s.Filter)
	if err != nil {
		return err
	}
	if s.Length < 0 {
		return fmt.Errorf("length must be >= 0, got %d", s.Length)
	}
	if !kind.TakesLength() && s.Length != 0 {
		return fmt.Errorf("filter %s does not take a length", kind)
	}
	return nil
}

// Kind resolves the step's filter name.
func (s FilterStep) Kind() (filter.Kind, error) {
	return filter.Lookup(s.Filter)
}
