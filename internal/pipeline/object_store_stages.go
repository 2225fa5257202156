package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/rasterkit/internal/domain"
	"github.com/dunamismax/rasterkit/internal/ppm"
)

const (
	SourceTypeS3Presigned = domain.SourceTypeS3Presigned
)

// ObjectStorage is the subset of the storage client the object-store stages
// use.
type ObjectStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter, workers int) (*Processor, error) {
	if fetcher.Storage == nil || emitter.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(fetcher, emitter, workers), nil
}

type ObjectStoreFetcher struct {
	Storage ObjectStorage
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStorage
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, data []byte, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := strings.TrimSpace(req.OutputKey)
	if objectKey == "" {
		objectKey = OutputObjectKey(e.OutputPrefix, req.JobID, req.Step)
	}

	if err := e.Storage.WriteObject(ctx, objectKey, data, ppm.ContentType); err != nil {
		return Output{}, err
	}

	return newOutput(req, objectKey, data, width, height), nil
}

// OutputObjectKey is where a job's result lands when it names no output key.
func OutputObjectKey(prefix, jobID string, step domain.FilterStep) string {
	return path.Join(defaultOutputPrefix(prefix), sanitizePathToken(jobID), outputFilename(step))
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
