package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/rasterkit/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeFilterRaster = "raster:filter"

type FilterRasterPayload struct {
	JobID       string            `json:"job_id"`
	SourceType  string            `json:"source_type"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	ObjectKey   string            `json:"object_key"`
	OutputKey   string            `json:"output_key,omitempty"`
	Step        domain.FilterStep `json:"step"`
	RequestedAt time.Time         `json:"requested_at"`
}

func NewFilterRasterTask(payload FilterRasterPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal filter payload: %w", err)
	}
	return asynq.NewTask(TypeFilterRaster, body), nil
}

func ParseFilterRasterPayload(task *asynq.Task) (FilterRasterPayload, error) {
	var payload FilterRasterPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return FilterRasterPayload{}, fmt.Errorf("unmarshal filter payload: %w", err)
	}
	if payload.JobID == "" {
		return FilterRasterPayload{}, fmt.Errorf("filter payload missing job_id")
	}
	if err := payload.Step.Validate(); err != nil {
		return FilterRasterPayload{}, fmt.Errorf("filter payload step: %w", err)
	}
	return payload, nil
}
